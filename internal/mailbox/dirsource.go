package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirSource reads RFC 5322 messages saved as .eml files in a directory, as
// written by a mail delivery agent or a fetchmail-style relay.
type DirSource struct {
	dir string
}

// NewDirSource creates a source over dir. The directory must exist.
func NewDirSource(dir string) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("mailbox directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mailbox path %s is not a directory", dir)
	}
	return &DirSource{dir: dir}, nil
}

// List implements Source. Messages come back in file name order; files that
// are not parseable messages are skipped.
func (s *DirSource) List(ctx context.Context) ([]Email, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var emails []Email
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".eml") {
			continue
		}
		email, err := readMessage(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		email.ID = entry.Name()
		emails = append(emails, email)
	}
	return emails, nil
}

// Remove implements Source.
func (s *DirSource) Remove(_ context.Context, id string) error {
	if id == "" || filepath.Base(id) != id {
		return fmt.Errorf("invalid message id %q", id)
	}
	return os.Remove(filepath.Join(s.dir, id))
}

func readMessage(path string) (Email, error) {
	f, err := os.Open(path)
	if err != nil {
		return Email{}, err
	}
	defer f.Close()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		return Email{}, err
	}

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		subject = msg.Header.Get("Subject")
	}

	email := Email{
		From:    msg.Header.Get("From"),
		Subject: subject,
	}
	if date, err := msg.Header.Date(); err == nil {
		email.Date = date
	}

	body, err := readBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return Email{}, err
	}
	email.Body = body
	return email, nil
}

// readBody decodes a single part, or picks text/html (then text/plain) out of
// a multipart body, recursing into nested multiparts.
func readBody(contentType, encoding string, r io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		data, err := io.ReadAll(decodeTransfer(encoding, r))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	boundary := params["boundary"]
	if boundary == "" {
		return "", errors.New("multipart message without boundary")
	}

	var html, plain string
	mr := multipart.NewReader(r, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		text, err := readBody(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
		if err != nil {
			return "", err
		}
		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		switch {
		case partType == "text/html" && html == "":
			html = text
		case strings.HasPrefix(partType, "multipart/") && html == "":
			html = text
		case (partType == "text/plain" || partType == "") && plain == "":
			plain = text
		}
	}
	if html != "" {
		return html, nil
	}
	return plain, nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	}
	return r
}
