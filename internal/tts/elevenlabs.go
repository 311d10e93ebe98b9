package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"aigod/internal/remote"
)

const elevenLabsDefaultBase = "https://api.elevenlabs.io"

// ElevenLabs calls the HTTP streaming text-to-speech endpoint.
type ElevenLabs struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewElevenLabs(apiKey, baseURL string, client *http.Client) *ElevenLabs {
	if client == nil {
		client = &http.Client{}
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = elevenLabsDefaultBase
	}

	return &ElevenLabs{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: baseURL,
		client:  client,
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type synthesizeBody struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, req Request) (io.ReadCloser, error) {
	if e.apiKey == "" {
		return nil, errors.New("elevenlabs api key is required")
	}
	if strings.TrimSpace(req.Voice) == "" {
		return nil, errors.New("voice id is required")
	}

	body, err := json.Marshal(synthesizeBody{
		Text:    req.Text,
		ModelID: req.Model,
		VoiceSettings: voiceSettings{
			Stability:       req.Stability,
			SimilarityBoost: req.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?optimize_streaming_latency=4",
		e.baseURL, url.PathEscape(req.Voice))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("xi-api-key", e.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, remote.Wrap("elevenlabs", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &remote.Error{
			Backend: "elevenlabs",
			Kind:    remote.KindOfStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Err:     errors.New(strings.TrimSpace(string(msg))),
		}
	}

	return resp.Body, nil
}
