package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const googleSpeechURL = "https://speech.googleapis.com/v1/speech:recognize"

// GoogleClient calls the Cloud Speech-to-Text v1 recognize endpoint with
// FLAC audio inlined as base64. Implements the Provider interface.
type GoogleClient struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewGoogleClient creates a recognize client. endpoint defaults to the
// public v1 URL; model may be empty for the service default.
func NewGoogleClient(endpoint, apiKey, model string, timeout time.Duration) *GoogleClient {
	if endpoint == "" {
		endpoint = googleSpeechURL
	}
	return &GoogleClient{
		url:    endpoint,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (gc *GoogleClient) Name() string { return "google" }

// Model returns the configured model identifier.
func (gc *GoogleClient) Model() string {
	if gc.model == "" {
		return "default"
	}
	return gc.model
}

type googleRequest struct {
	Config googleConfig `json:"config"`
	Audio  googleAudio  `json:"audio"`
}

type googleConfig struct {
	Encoding          string `json:"encoding"`
	SampleRateHertz   int    `json:"sampleRateHertz"`
	LanguageCode      string `json:"languageCode"`
	AudioChannelCount int    `json:"audioChannelCount,omitempty"`
	Model             string `json:"model,omitempty"`
}

type googleAudio struct {
	Content string `json:"content"`
}

type googleResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
		LanguageCode string `json:"languageCode"`
	} `json:"results"`
}

// Transcribe sends the whole snippet in one synchronous request. The top
// alternative of each result is kept, newline-joined in service order.
func (gc *GoogleClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}

	rate := opts.SampleRate
	if rate == 0 {
		rate = 16000
	}
	lang := opts.Language
	if lang == "" {
		lang = "en-US"
	}
	payload := googleRequest{
		Config: googleConfig{
			Encoding:          "FLAC",
			SampleRateHertz:   rate,
			LanguageCode:      lang,
			AudioChannelCount: 1,
			Model:             gc.model,
		},
		Audio: googleAudio{Content: base64.StdEncoding.EncodeToString(audio)},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := gc.url
	if gc.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(gc.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := gc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google speech request: %w", scrub(err, gc.apiKey))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google speech API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result googleResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var lines []string
	var detected string
	for _, r := range result.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
			lines = append(lines, t)
		}
		if detected == "" {
			detected = r.LanguageCode
		}
	}
	if len(lines) == 0 {
		return nil, ErrNoResults
	}
	if detected == "" {
		detected = lang
	}
	return &Response{Text: strings.Join(lines, "\n"), Language: detected}, nil
}

// scrub removes the API key from transport errors, which quote the URL.
func scrub(err error, key string) error {
	if key == "" {
		return err
	}
	msg := err.Error()
	clean := strings.ReplaceAll(msg, url.QueryEscape(key), "***")
	if clean == msg {
		return err
	}
	return fmt.Errorf("%s", clean)
}
