package server

import (
	"fmt"
	"sort"

	"github.com/danmuck/znplink/internal/protocol"
	"github.com/danmuck/znplink/internal/protocol/schema"
)

// MessageView is the JSON form of a decoded frame.
type MessageView struct {
	Command string            `json:"command,omitempty"`
	Header  string            `json:"header"`
	Known   bool              `json:"known"`
	Fields  map[string]string `json:"fields,omitempty"`
	Data    string            `json:"data,omitempty"`
}

func NewMessageView(m protocol.Message) MessageView {
	v := MessageView{Command: m.Command, Header: m.Header.String(), Known: m.Known}
	if m.Known {
		v.Fields = m.Fields.Text()
	} else if len(m.Data) > 0 {
		v.Data = fmt.Sprintf("%X", m.Data)
	}
	return v
}

type ParamView struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type CommandView struct {
	Name     string      `json:"name"`
	Header   string      `json:"header"`
	Reply    string      `json:"reply"`
	Request  []ParamView `json:"request,omitempty"`
	Response []ParamView `json:"response,omitempty"`
	Callback string      `json:"callback,omitempty"`
}

// DescribeCommands lists the registry sorted by name.
func DescribeCommands(reg *schema.Registry) []CommandView {
	commands := reg.Commands()
	out := make([]CommandView, 0, len(commands))
	for _, d := range commands {
		out = append(out, CommandView{
			Name:     d.Name,
			Header:   d.Header.String(),
			Reply:    d.Reply.String(),
			Request:  params(d.Request),
			Response: params(d.Response),
			Callback: d.Callback,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func params(layout []protocol.Param) []ParamView {
	if len(layout) == 0 {
		return nil
	}
	out := make([]ParamView, 0, len(layout))
	for _, p := range layout {
		out = append(out, ParamView{Name: p.Name, Type: p.Type.String()})
	}
	return out
}
