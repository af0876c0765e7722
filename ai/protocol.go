package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dhcgn/dsar-redact/model"
	"github.com/dhcgn/dsar-redact/subject"
)

// flexString accepts both JSON strings and numbers; models are not
// consistent about quoting message ids.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	*f = flexString(s)
	return nil
}

type aiItem struct {
	Text     string `json:"text"`
	Original string `json:"original"`
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
}

// text returns whichever key the model used for the detected span.
func (i aiItem) text() string {
	if i.Text != "" {
		return i.Text
	}
	return i.Original
}

type aiResult struct {
	MessageID  flexString `json:"messageId"`
	Items      []aiItem   `json:"items"`
	Redactions []aiItem   `json:"redactions"`
}

// all merges the two accepted item keys.
func (r aiResult) all() []aiItem {
	if len(r.Redactions) == 0 {
		return r.Items
	}
	return append(append([]aiItem(nil), r.Items...), r.Redactions...)
}

type aiResponse struct {
	Results []aiResult `json:"results"`
}

// decodeResponse parses the model output, falling back to a cleanup pass
// (strip fences, balance delimiters) and a second attempt.
func decodeResponse(raw string) (aiResponse, error) {
	var resp aiResponse
	if err := json.Unmarshal([]byte(raw), &resp); err == nil {
		return resp, nil
	}

	repaired := repairJSON(raw)
	if err := json.Unmarshal([]byte(repaired), &resp); err != nil {
		return aiResponse{}, fmt.Errorf("parse ai response: %w", err)
	}
	return resp, nil
}

type payloadMessage struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Cc      string `json:"cc,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// payload renders the batch in its current (already partially redacted)
// state, so the model sees the placeholders and can avoid re-flagging
// them.
func payload(msgs []model.Message) string {
	out := make([]payloadMessage, 0, len(msgs))
	for _, m := range msgs {
		from := m.Sender.Name
		if m.Sender.Email != "" {
			if from != "" {
				from += " "
			}
			from += "<" + m.Sender.Email + ">"
		}
		out = append(out, payloadMessage{
			ID:      m.ID,
			From:    from,
			To:      m.Recipients.To,
			Cc:      m.Recipients.Cc,
			Subject: m.Subject,
			Body:    m.Body,
		})
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func stagePrompt(stage Stage, m *subject.Matcher, placeholder string) string {
	var focus string
	switch stage {
	case StageNames:
		focus = `Identify person names (first names, surnames, full names, nicknames) belonging to anyone other than the data subject. Use type "name".`
	case StageCompanies:
		focus = `Identify company, organisation and trading names. Use type "company".`
	case StageContact:
		focus = `Identify contact details: email addresses, phone numbers and postal addresses. Use type "email", "phone" or "address".`
	default:
		focus = `Identify any remaining third-party personal data. Choose the closest type.`
	}

	return fmt.Sprintf(`You are assisting with a data subject access request disclosure. The protected data subject is %s <%s>; their name, email and any variation of their identity must NEVER be flagged.

%s

Rules:
- Report only NEW detections. Text already replaced with %s is done; never flag it.
- Report the exact text as it appears in the message.
- Skip anything that refers to the data subject.

Respond with JSON only, in this shape:
{"results":[{"messageId":"<id>","items":[{"text":"<exact text>","type":"<type>"}]}]}
Include a result entry only for messages with detections.`,
		m.Name(), m.Email(), focus, placeholder)
}
