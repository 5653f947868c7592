package notes

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/RichardoC/rosa/internal/models"
)

const (
	MetadataFile = "README.md"

	isoLayout      = "2006-01-02T15:04:05.000Z07:00"
	dateLayout     = "1/2/2006"
	timeLayout     = "3:04:05 PM"
	dateTimeLayout = dateLayout + ", " + timeLayout
)

// Metadata is the decoded front matter of a conversation README.
type Metadata struct {
	ID            string
	Title         string
	Created       time.Time
	Updated       time.Time
	MessageCount  int
	ProviderID    string
	Model         string
	PersonalityID string
}

// Encoder renders notes. Human-readable dates are printed in Location;
// front matter instants are always UTC.
type Encoder struct {
	Location *time.Location
}

func NewEncoder(loc *time.Location) Encoder {
	if loc == nil {
		loc = time.Local
	}
	return Encoder{Location: loc}
}

func FormatInstant(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

func (e Encoder) DateTime(t time.Time) string { return t.In(e.loc()).Format(dateTimeLayout) }
func (e Encoder) Date(t time.Time) string     { return t.In(e.loc()).Format(dateLayout) }
func (e Encoder) Time(t time.Time) string     { return t.In(e.loc()).Format(timeLayout) }

func (e Encoder) loc() *time.Location {
	if e.Location == nil {
		return time.Local
	}
	return e.Location
}

// MessageNoteName is the link target of the index-th message, 0-based.
// Listing a folder by name reproduces message order.
func MessageNoteName(index int, msg models.Message) string {
	stamp := FormatInstant(msg.Timestamp)[:19]
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return fmt.Sprintf("%03d-%s-%s", index, msg.Role, stamp)
}

func MessageFileName(index int, msg models.Message) string {
	return MessageNoteName(index, msg) + ".md"
}

// EncodeMessage renders msg as a standalone note linked back to conv.
func (e Encoder) EncodeMessage(conv *models.Conversation, msg models.Message) string {
	return strings.Join([]string{
		delimiter,
		`conversation: "` + conv.Title + `"`,
		"role: " + string(msg.Role),
		"timestamp: " + FormatInstant(msg.Timestamp),
		"message_id: " + msg.ID,
		delimiter,
		"",
		fmt.Sprintf("# %s Message", msg.Role.Label()),
		"",
		msg.Content,
		"",
		delimiter,
		"",
		fmt.Sprintf("**Conversation:** [[%s/README|%s]]", conv.FolderPath, conv.Title),
		"**Time:** " + e.DateTime(msg.Timestamp),
	}, "\n")
}

// EncodeMetadata renders the conversation README with an index of links to
// every message note.
func (e Encoder) EncodeMetadata(conv *models.Conversation) string {
	lines := []string{
		delimiter,
		`title: "` + conv.Title + `"`,
		"conversation_id: " + conv.ID,
		"created: " + FormatInstant(conv.CreatedAt),
		"updated: " + FormatInstant(conv.UpdatedAt),
		"message_count: " + strconv.Itoa(len(conv.Messages)),
	}
	if conv.ProviderID != "" {
		lines = append(lines, "provider_id: "+conv.ProviderID)
	}
	if conv.Model != "" {
		lines = append(lines, "model: "+conv.Model)
	}
	if conv.PersonalityID != "" {
		lines = append(lines, "personality_id: "+conv.PersonalityID)
	}
	lines = append(lines,
		delimiter,
		"",
		"# "+conv.Title,
		"",
		"## Conversation Summary",
		"",
		"- **Started:** "+e.DateTime(conv.CreatedAt),
		"- **Last Updated:** "+e.DateTime(conv.UpdatedAt),
		"- **Messages:** "+strconv.Itoa(len(conv.Messages)),
		"",
		"## Messages",
		"",
	)
	for i, msg := range conv.Messages {
		lines = append(lines, fmt.Sprintf("%d. [[%s|%s - %s]]",
			i+1, MessageNoteName(i, msg), msg.Role.Label(), e.Time(msg.Timestamp)))
	}
	return strings.Join(lines, "\n")
}

// DecodeMessage reads a message note. name is used for error reporting and
// as the id of notes written without a message_id.
func DecodeMessage(name, text string) (models.Message, error) {
	fields, body, ok := splitFrontMatter(text)
	if !ok {
		return models.Message{}, &ParseError{Name: name, Reason: "missing front matter"}
	}

	role := models.Role(fields["role"])
	if !role.Valid() {
		return models.Message{}, &ParseError{Name: name, Reason: fmt.Sprintf("invalid role %q", fields["role"])}
	}
	ts, err := time.Parse(time.RFC3339Nano, fields["timestamp"])
	if err != nil {
		return models.Message{}, &ParseError{Name: name, Reason: fmt.Sprintf("invalid timestamp %q", fields["timestamp"])}
	}
	id := fields["message_id"]
	if id == "" {
		id = name
	}

	return models.Message{
		ID:        id,
		Role:      role,
		Content:   messageBody(body),
		Timestamp: ts.UTC(),
	}, nil
}

// messageBody strips the framing EncodeMessage writes around the content:
// a blank line, the heading, a blank line, and a blank line before the
// footer separator. Notes that do not follow that framing exactly are
// decoded leniently and trimmed.
func messageBody(body string) string {
	if rest, ok := strings.CutPrefix(body, "\n"); ok {
		heading, after, found := strings.Cut(rest, "\n")
		if found && strings.HasPrefix(heading, "# ") {
			if content, ok := strings.CutPrefix(after, "\n"); ok {
				if i := strings.LastIndex(content, "\n\n"+delimiter+"\n"); i >= 0 {
					return content[:i]
				}
			}
		}
	}

	body = strings.TrimLeft(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	if strings.HasPrefix(body, "# ") {
		_, rest, _ := strings.Cut(body, "\n")
		body = rest
	}
	if i := strings.LastIndex(body, "\n"+delimiter+"\n"); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}

// DecodeMetadata reads a conversation README found in folderName.
func DecodeMetadata(folderName, text string) (Metadata, error) {
	fields := ParseFrontMatter(text)
	id := fields["conversation_id"]
	if id == "" {
		return Metadata{}, &ParseError{Name: folderName + "/" + MetadataFile, Reason: "missing conversation_id"}
	}

	md := Metadata{
		ID:            id,
		Title:         fields["title"],
		ProviderID:    fields["provider_id"],
		Model:         fields["model"],
		PersonalityID: fields["personality_id"],
	}
	if md.Title == "" {
		md.Title = folderName
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["created"]); err == nil {
		md.Created = t.UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["updated"]); err == nil {
		md.Updated = t.UTC()
	}
	if n, err := strconv.Atoi(fields["message_count"]); err == nil {
		md.MessageCount = n
	}
	return md, nil
}
