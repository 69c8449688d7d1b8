package web

import (
	"html/template"
	"io"
	"time"

	"churchcal/internal/calendar"
)

var agendaTmpl = template.Must(template.New("agenda").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Room.Name}}</title>
<style>
body { font-family: sans-serif; margin: 24px; color: #111; }
h1 { font-size: 20px; margin: 0 0 4px; }
.range { color: #555; margin-bottom: 16px; }
h2 { font-size: 14px; border-bottom: 1px solid #ccc; margin: 16px 0 6px; }
.occ { display: flex; gap: 12px; font-size: 12px; padding: 2px 0; }
.dot { width: 10px; height: 10px; border-radius: 50%; margin-top: 3px; flex: none; }
.time { width: 90px; flex: none; }
.src { color: #777; }
</style>
</head>
<body>
<main data-ready="true">
<h1>{{.Room.Name}}</h1>
<div class="range">{{.From}} - {{.To}}</div>
{{range .Days}}<section>
<h2>{{.Label}}</h2>
{{range .Items}}<div class="occ"><span class="dot" style="background: {{.Color}}"></span><span class="time">{{.Time}}</span><span>{{.Title}}{{if .Source}} <span class="src">({{.Source}})</span>{{end}}</span></div>
{{end}}</section>
{{else}}<p>No events.</p>
{{end}}</main>
</body>
</html>
`))

type agendaItem struct {
	Time   string
	Title  string
	Color  template.CSS
	Source string
}

type agendaDay struct {
	Label string
	Items []agendaItem
}

type agendaPage struct {
	Room     struct{ Name string }
	From, To string
	Days     []agendaDay
}

// renderAgenda writes v as a day-grouped HTML agenda in loc.
func renderAgenda(w io.Writer, v *calendar.View, loc *time.Location) error {
	page := agendaPage{
		From: v.From.In(loc).Format(time.DateOnly),
		To:   v.To.In(loc).Format(time.DateOnly),
	}
	page.Room.Name = v.Room.Name

	for _, occ := range v.Occurrences {
		start := occ.Start.In(loc)
		label := start.Format("Monday, 2 January 2006")
		if n := len(page.Days); n == 0 || page.Days[n-1].Label != label {
			page.Days = append(page.Days, agendaDay{Label: label})
		}
		item := agendaItem{Title: occ.Title, Color: safeColor(occ.Color), Time: "all day"}
		if !occ.AllDay {
			item.Time = start.Format("15:04") + "-" + occ.End.In(loc).Format("15:04")
		}
		if occ.IsExternal {
			item.Source = occ.SourceRoomName
		}
		day := &page.Days[len(page.Days)-1]
		day.Items = append(day.Items, item)
	}
	return agendaTmpl.Execute(w, page)
}

// safeColor admits only #rrggbb values into the style attribute.
func safeColor(c string) template.CSS {
	if len(c) != 7 || c[0] != '#' {
		return template.CSS(calendar.DefaultEventColor)
	}
	for _, r := range c[1:] {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
			return template.CSS(calendar.DefaultEventColor)
		}
	}
	return template.CSS(c)
}

// stamp is the cache key form of a window bound.
func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
