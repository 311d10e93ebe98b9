package session

import (
	"encoding/xml"
	log "log/slog"
	"net/http"
)

// TwiML verbs used by the voice webhook.

type Play struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type Say struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	Timeout       int      `xml:"timeout,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr"`
}

type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

func (r *Response) Play(url string) *Response {
	r.Verbs = append(r.Verbs, Play{URL: url})
	return r
}

func (r *Response) Say(text string) *Response {
	r.Verbs = append(r.Verbs, Say{Text: text})
	return r
}

func (r *Response) Pause(seconds int) *Response {
	r.Verbs = append(r.Verbs, Pause{Length: seconds})
	return r
}

// Gather asks for the next utterance.
func (r *Response) Gather() *Response {
	r.Verbs = append(r.Verbs, Gather{
		Input:         "speech",
		Action:        "/voice",
		Method:        http.MethodPost,
		Timeout:       5,
		SpeechTimeout: "auto",
	})
	return r
}

func (r *Response) Hangup() *Response {
	r.Verbs = append(r.Verbs, Hangup{})
	return r
}

func (r *Response) Write(w http.ResponseWriter, status int) {
	body, err := xml.Marshal(r)
	if err != nil {
		log.Error("Failed to encode TwiML", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	w.Write([]byte(xml.Header))
	w.Write(body)
}
