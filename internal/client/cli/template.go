package cli

import (
	"text/template"
	"time"

	"github.com/iudanet/gophchat/internal/client/chat"
	"github.com/iudanet/gophchat/internal/models"
)

var funcs = template.FuncMap{
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "--:--"
		}
		return t.Local().Format("15:04")
	},
	"inc": func(i int) int { return i + 1 },
}

var profileTemplate = template.Must(template.New("profile").Parse(`
Name:   {{.FullName}}
Email:  {{.Email}}
ID:     {{.UserID}}
Server: {{.ServerURL}}
{{- if .ProfilePic }}
Avatar: {{if gt (len .ProfilePic) 80}}{{slice .ProfilePic 0 80}}...{{else}}{{.ProfilePic}}{{end}}
{{- end}}
`))

var usersTemplate = template.Must(template.New("users").Funcs(funcs).Parse(`
{{- range $i, $u := . }}
{{ $i | inc }}. {{ $u.FullName }} <{{ $u.Email }}>
   ID: {{ $u.ID }}
{{- end }}
`))

var entryTemplate = template.Must(template.New("entry").Funcs(funcs).Parse(
	`[{{clock .Message.CreatedAt}}] {{.Author}}: {{.Message.Text}}` +
		`{{if .Message.Image}} [image]{{end}}` +
		`{{range .Message.Reactions}} {{.Emoji}}{{end}}` +
		`{{if .Own}} ({{.Status}}){{end}}` +
		`{{if .ShowID}}  #{{.Message.ID}}{{end}}` + "\n"))

// entryView - запись переписки для вывода
type entryView struct {
	Author  string
	Status  models.MessageStatus
	Message models.Message
	Own     bool
	ShowID  bool
}

func newEntryView(e chat.Entry, selfID, peerName string, showID bool) entryView {
	v := entryView{Message: e.Message, Status: e.Status, ShowID: showID && e.Kind == chat.Confirmed}
	if e.Message.SenderID == selfID {
		v.Author = "You"
		v.Own = true
	} else {
		v.Author = peerName
	}
	return v
}

