package app

import (
	"fmt"
	"io"

	"github.com/MrWong99/streamscribe/internal/config"
	"github.com/MrWong99/streamscribe/pkg/audio"
	"github.com/MrWong99/streamscribe/pkg/audio/wavfile"
)

// OpenSource opens the capture source selected by cfg.Audio. stdin backs the
// "stdin" source and is closed with it.
func OpenSource(cfg *config.Config, stdin io.Reader) (audio.Source, error) {
	a := cfg.Audio
	switch a.Source {
	case config.SourceFile:
		src, err := wavfile.Open(a.Path,
			wavfile.WithFrameBytes(cfg.Stream.FrameBytes),
			wavfile.WithFormat(a.SampleRate, a.Channels),
			wavfile.WithRealtime(config.Bool(a.Realtime, true)),
		)
		if err != nil {
			return nil, fmt.Errorf("app: open audio file: %w", err)
		}
		return src, nil

	case config.SourceStdin, "":
		src, err := audio.NewReaderSource(stdin,
			audio.WithFrameBytes(cfg.Stream.FrameBytes),
			audio.WithFormat(a.SampleRate, a.Channels),
		)
		if err != nil {
			return nil, fmt.Errorf("app: open stdin: %w", err)
		}
		return src, nil

	default:
		return nil, fmt.Errorf("app: unknown audio source %q", a.Source)
	}
}
