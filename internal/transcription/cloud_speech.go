package transcription

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/audio"
)

const (
	speechAPIEndpointPort = 443

	// synchronous Recognize accepts at most one minute of inline audio
	cloudSpeechWindow = 55 * time.Second
)

// CloudSpeechConfig configures the Google Cloud Speech-to-Text v2 backend
type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Language        string // default BCP-47 code when the caller gives none
}

// recognizeFunc is one synchronous Recognize call
type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// cloudSpeechModel runs synchronous Recognize calls against one recognition
// model, one call per window of the waveform. The mode's Device names the
// model (chirp_3, long, ...).
type cloudSpeechModel struct {
	recognize  recognizeFunc
	closeFn    func() error
	recognizer string
	model      string
	language   string
	window     time.Duration
	logger     *slog.Logger
}

// NewCloudSpeechLoader returns a Loader that opens a Speech v2 client per mode
func NewCloudSpeechLoader(cfg CloudSpeechConfig, logger *slog.Logger) Loader {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	language := cfg.Language
	if language == "" {
		language = "en-US"
	}

	return func(ctx context.Context, mode Mode) (Model, error) {
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("google cloud project id is required")
		}

		detect := &credentials.DetectOptions{
			Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"},
		}
		if cfg.CredentialsJSON != "" {
			detect.CredentialsJSON = []byte(cfg.CredentialsJSON)
		}
		creds, err := credentials.DetectDefault(detect)
		if err != nil {
			return nil, fmt.Errorf("detect credentials: %w", err)
		}

		opts := []option.ClientOption{option.WithAuthCredentials(creds)}
		if location != "global" {
			opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", location, speechAPIEndpointPort)))
		}

		client, err := speech.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create speech client: %w", err)
		}

		logger.Info("Cloud speech client ready",
			slog.String("location", location),
			slog.String("model", mode.Device))

		return &cloudSpeechModel{
			recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
				return client.Recognize(ctx, req)
			},
			closeFn:    client.Close,
			window:     cloudSpeechWindow,
			recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", cfg.ProjectID, location),
			model:      mode.Device,
			language:   language,
			logger:     logger,
		}, nil
	}
}

func (m *cloudSpeechModel) Transcribe(ctx context.Context, wavPath string, opts Options) (*RawOutput, error) {
	if opts.Task == TaskTranslate {
		return nil, fmt.Errorf("cloud speech backend does not support the %q task", opts.Task)
	}

	samples, info, err := audio.ReadSamples(wavPath)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	rate := int(info.SampleRate)
	channels := int(info.Channels)
	if rate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("read audio: invalid format rate=%d channels=%d", rate, channels)
	}

	window := m.window
	if window <= 0 || window > cloudSpeechWindow {
		window = cloudSpeechWindow
	}
	step := max(int(window.Seconds()*float64(rate)), 1) * channels
	language := m.languageFor(opts)

	out := &RawOutput{Duration: float64(len(samples)/channels) / float64(rate)}
	for begin := 0; begin < len(samples); begin += step {
		stop := min(begin+step, len(samples))
		offset := float64(begin/channels) / float64(rate)

		req := buildRecognizeRequest(m.recognizer, m.model, language, rate, channels, pcmBytes(samples[begin:stop]))
		resp, err := m.recognize(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("recognize window at %.1fs: %w", offset, err)
		}

		part := recognizeToRaw(resp)
		for _, seg := range part.Segments {
			seg.Start += offset
			seg.End += offset
			out.Segments = append(out.Segments, seg)
		}
		if out.Language == "" && part.Language != "" {
			out.Language = part.Language
			out.LanguageProbability = part.LanguageProbability
		}
	}

	m.logger.Debug("Cloud speech recognized",
		slog.String("path", wavPath),
		slog.Int("windows", (len(samples)+step-1)/step),
		slog.Int("segments", len(out.Segments)))

	return out, nil
}

func (m *cloudSpeechModel) languageFor(opts Options) string {
	if opts.Language != "" {
		return opts.Language
	}
	return m.language
}

func (m *cloudSpeechModel) Close() error {
	if m.closeFn == nil {
		return nil
	}
	return m.closeFn()
}

func buildRecognizeRequest(recognizer, model, language string, sampleRate, channels int, pcm []byte) *speechpb.RecognizeRequest {
	return &speechpb.RecognizeRequest{
		Recognizer: recognizer,
		Config: &speechpb.RecognitionConfig{
			Model:         model,
			LanguageCodes: []string{language},
			DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   int32(sampleRate),
					AudioChannelCount: int32(channels),
				},
			},
			Features: &speechpb.RecognitionFeatures{
				EnableAutomaticPunctuation: true,
			},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{Content: pcm},
	}
}

// pcmBytes encodes samples as little-endian LINEAR16
func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// recognizeToRaw turns each recognition result into one segment running from
// the previous result's end offset to its own
func recognizeToRaw(resp *speechpb.RecognizeResponse) *RawOutput {
	out := &RawOutput{Segments: make([]RawSegment, 0, len(resp.GetResults()))}

	var prevEnd float64
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		end := prevEnd
		if r.GetResultEndOffset() != nil {
			end = r.GetResultEndOffset().AsDuration().Seconds()
		}

		seg := RawSegment{Start: prevEnd, End: end, Text: alts[0].GetTranscript()}
		if c := alts[0].GetConfidence(); c > 0 {
			conf := float64(c)
			seg.Confidence = &conf
		}
		out.Segments = append(out.Segments, seg)

		if out.Language == "" && r.GetLanguageCode() != "" {
			out.Language = r.GetLanguageCode()
			out.LanguageProbability = 1
		}
		prevEnd = end
	}

	out.Duration = prevEnd
	if d := resp.GetMetadata().GetTotalBilledDuration(); d != nil && d.AsDuration().Seconds() > out.Duration {
		out.Duration = d.AsDuration().Seconds()
	}
	return out
}
