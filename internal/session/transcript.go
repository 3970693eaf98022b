package session

import (
	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderTranscript formats the conversation as an operator-readable table,
// logged when a session ends.
func (s *State) RenderTranscript() string {
	msgs := s.Messages()
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "At", "Sender", "Text"})
	for i, m := range msgs {
		t.AppendRow(table.Row{i + 1, m.CreatedAt.Format("15:04:05.000"), string(m.Sender), m.Text})
	}
	t.SetStyle(table.StyleLight)
	return t.Render()
}
