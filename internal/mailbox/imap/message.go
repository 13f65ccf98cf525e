package imap

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// FormatID builds a message id from the folder's UIDVALIDITY and the UID.
// The pair stays valid for as long as the server keeps UIDVALIDITY.
func FormatID(validity uint32, uid imap.UID) string {
	return fmt.Sprintf("%d:%d", validity, uid)
}

// ParseID splits a message id built by FormatID.
func ParseID(id string) (uint32, imap.UID, error) {
	v, u, ok := strings.Cut(id, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed imap message id %q", id)
	}

	validity, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed imap message id %q: %w", id,
			err)
	}
	uid, err := strconv.ParseUint(u, 10, 32)
	if err != nil || uid == 0 {
		return 0, 0, fmt.Errorf("malformed imap message id %q", id)
	}

	return uint32(validity), imap.UID(uid), nil
}

// LabelKeyword turns a label name into an IMAP keyword. Keywords are atoms,
// so characters outside the atom set become underscores.
func LabelKeyword(name string) string {
	name = strings.TrimSpace(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r <= 0x20 || r >= 0x7f:
			b.WriteByte('_')
		case strings.ContainsRune(`(){%*"\]`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// allowsKeyword reports whether the folder lets clients store the keyword.
func allowsKeyword(permanent []imap.Flag, keyword string) bool {
	for _, f := range permanent {
		if f == imap.FlagWildcard ||
			strings.EqualFold(string(f), keyword) {

			return true
		}
	}

	return false
}

func formatAddress(addr imap.Address) string {
	if addr.Name == "" {
		return addr.Addr()
	}

	return fmt.Sprintf("%s <%s>", addr.Name, addr.Addr())
}

var (
	tagRE   = regexp.MustCompile(`<[^>]*>`)
	spaceRE = regexp.MustCompile(`[ \t]+`)
)

// ParseBody extracts the readable text of a raw RFC 5322 message: the first
// text/plain part, or the first text/html part with its tags stripped.
// Unparseable input is returned unchanged.
func ParseBody(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	defer mr.Close()

	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case (contentType == "text/plain" || contentType == "") &&
			plain == "":

			plain = string(body)
		case contentType == "text/html" && html == "":
			html = string(body)
		}
	}

	if strings.TrimSpace(plain) != "" {
		return strings.TrimSpace(plain)
	}

	text := tagRE.ReplaceAllString(html, " ")
	text = strings.NewReplacer(
		"&nbsp;", " ", "&lt;", "<", "&gt;", ">", "&amp;", "&",
		"&quot;", `"`,
	).Replace(text)

	return strings.TrimSpace(spaceRE.ReplaceAllString(text, " "))
}
