// Package mbox loads a mailbox export into the flat message collection
// the redaction engine consumes. Two input formats are supported: an
// mbox archive and a pre-extracted JSON collection.
package mbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/dsar-redact/model"
)

// Options captures the loader configuration.
type Options struct {
	Path string
	// Limit caps the number of loaded messages; 0 means no cap.
	Limit int
}

// LoadFile reads an mbox archive into a message collection. IDs are
// assigned sequentially in extraction order and never reassigned.
// Messages that cannot be decoded are skipped with a warning; a mailbox
// export routinely contains a few malformed items.
func LoadFile(opts Options, logger *slog.Logger) ([]model.Message, error) {
	file, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)

	var msgs []model.Message
	for idx := 0; ; idx++ {
		if opts.Limit > 0 && len(msgs) >= opts.Limit {
			return msgs, nil
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return msgs, nil
			}
			return nil, fmt.Errorf("mbox message %d: %w", idx, err)
		}

		msg, err := decode(msgReader)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping undecodable message", "index", idx, "err", err)
			}
			continue
		}

		msg.ID = strconv.Itoa(len(msgs) + 1)
		msg.SourceFile = opts.Path
		msgs = append(msgs, msg)
	}
}

// LoadJSON reads a pre-extracted JSON message collection.
func LoadJSON(path string, limit int) ([]model.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collection: %w", err)
	}

	var msgs []model.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parse collection: %w", err)
	}

	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = strconv.Itoa(i + 1)
		}
		if msgs[i].SourceFile == "" {
			msgs[i].SourceFile = path
		}
	}

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func decode(r io.Reader) (model.Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return model.Message{}, fmt.Errorf("parse mail: %w", err)
	}

	msg := model.Message{MessageClass: "IPM.Note"}

	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if date, err := mr.Header.Date(); err == nil {
		msg.Date = date
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = model.Party{Name: from[0].Name, Email: from[0].Address}
	}
	if to, err := mr.Header.AddressList("To"); err == nil {
		msg.Recipients.To = joinAddresses(to)
	}
	if cc, err := mr.Header.AddressList("Cc"); err == nil {
		msg.Recipients.Cc = joinAddresses(cc)
	}
	if bcc, err := mr.Header.AddressList("Bcc"); err == nil {
		msg.Recipients.Bcc = joinAddresses(bcc)
	}

	msg.Body = textBody(mr)
	return msg, nil
}

// textBody returns the first text/plain part, or failing that the first
// text part of any kind.
func textBody(mr *mail.Reader) string {
	var fallback string
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		if contentType == "text/plain" {
			return string(body)
		}
		if fallback == "" && strings.HasPrefix(contentType, "text/") {
			fallback = string(body)
		}
	}
	return fallback
}

func joinAddresses(addrs []*mail.Address) string {
	entries := make([]string, 0, len(addrs))
	for _, a := range addrs {
		switch {
		case a.Name != "" && a.Address != "":
			entries = append(entries, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		case a.Address != "":
			entries = append(entries, a.Address)
		case a.Name != "":
			entries = append(entries, a.Name)
		}
	}
	return strings.Join(entries, "; ")
}
