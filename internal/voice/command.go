package voice

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// CommandEngine speaks through a local synthesis binary: espeak-ng, espeak,
// or macOS say.
type CommandEngine struct {
	binary string
	flavor commandFlavor
	log    zerolog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	changed chan struct{}
}

type commandFlavor int

const (
	flavorEspeak commandFlavor = iota
	flavorSay
)

// baseWPM is the words-per-minute both espeak and say use at rate 1.0.
const baseWPM = 175

// candidateBinaries is the lookup order used when no binary is configured.
var candidateBinaries = []string{"espeak-ng", "espeak", "say"}

// NewCommandEngine resolves binary (or the first candidate on PATH).
func NewCommandEngine(binary string, log zerolog.Logger) (*CommandEngine, error) {
	binary = strings.TrimSpace(binary)
	var path string
	if binary != "" {
		p, err := exec.LookPath(binary)
		if err != nil {
			return nil, fmt.Errorf("speech command %q not found: %w", binary, err)
		}
		path = p
	} else {
		for _, candidate := range candidateBinaries {
			if p, err := exec.LookPath(candidate); err == nil {
				path = p
				break
			}
		}
		if path == "" {
			return nil, fmt.Errorf("no speech command found (tried %s): %w",
				strings.Join(candidateBinaries, ", "), ErrEngineUnavailable)
		}
	}

	flavor := flavorEspeak
	if filepath.Base(path) == "say" {
		flavor = flavorSay
	}
	return &CommandEngine{
		binary:  path,
		flavor:  flavor,
		log:     log.With().Str("engine", "command").Str("binary", filepath.Base(path)).Logger(),
		running: make(map[string]context.CancelFunc),
		changed: make(chan struct{}),
	}, nil
}

func (e *CommandEngine) Name() string { return "command:" + filepath.Base(e.binary) }

func (e *CommandEngine) Available() bool {
	_, err := exec.LookPath(e.binary)
	return err == nil
}

// VoicesChanged never fires: installed voices are fixed for the process lifetime.
func (e *CommandEngine) VoicesChanged() <-chan struct{} { return e.changed }

func (e *CommandEngine) Voices(ctx context.Context) ([]Voice, error) {
	var args []string
	if e.flavor == flavorSay {
		args = []string{"-v", "?"}
	} else {
		args = []string{"--voices"}
	}
	out, err := exec.CommandContext(ctx, e.binary, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	if e.flavor == flavorSay {
		return parseSayVoices(out), nil
	}
	return parseEspeakVoices(out), nil
}

func (e *CommandEngine) Speak(ctx context.Context, u Utterance) (<-chan UtteranceEvent, error) {
	if !e.Available() {
		return nil, ErrEngineUnavailable
	}
	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, e.binary, commandArgs(e.flavor, u)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start speech command: %w", err)
	}

	e.mu.Lock()
	e.running[u.ID] = cancel
	e.mu.Unlock()

	events := make(chan UtteranceEvent, 2)
	events <- UtteranceEvent{Type: UtteranceStart, UtteranceID: u.ID}
	go func() {
		defer close(events)
		err := cmd.Wait()

		e.mu.Lock()
		delete(e.running, u.ID)
		e.mu.Unlock()
		interrupted := runCtx.Err() != nil
		cancel()

		switch {
		case interrupted:
			events <- UtteranceEvent{Type: UtteranceError, UtteranceID: u.ID, Code: "interrupted"}
		case err != nil:
			detail := strings.TrimSpace(stderr.String())
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && detail == "" {
				detail = exitErr.Error()
			}
			e.log.Debug().Err(err).Str("stderr", detail).Msg("speech command failed")
			events <- UtteranceEvent{Type: UtteranceError, UtteranceID: u.ID, Code: "synthesis-failed", Detail: detail}
		default:
			events <- UtteranceEvent{Type: UtteranceEnd, UtteranceID: u.ID}
		}
	}()
	return events, nil
}

// CancelAll kills every running speech process.
func (e *CommandEngine) CancelAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.running {
		cancel()
		delete(e.running, id)
	}
	return nil
}

func commandArgs(flavor commandFlavor, u Utterance) []string {
	wpm := int(math.Round(baseWPM * u.Rate))
	if wpm <= 0 {
		wpm = baseWPM
	}
	args := make([]string, 0, 8)
	if u.VoiceID != "" {
		args = append(args, "-v", u.VoiceID)
	}
	if flavor == flavorSay {
		args = append(args, "-r", strconv.Itoa(wpm))
		text := u.Text
		if strings.HasPrefix(text, "-") {
			text = " " + text
		}
		return append(args, text)
	}
	args = append(args, "-p", strconv.Itoa(espeakPitch(u.Pitch)), "-s", strconv.Itoa(wpm))
	return append(args, "--", u.Text)
}

// espeakPitch maps a 1.0-centred pitch multiplier onto espeak's 0..99 scale.
func espeakPitch(pitch float64) int {
	if pitch <= 0 {
		pitch = DefaultPitch
	}
	p := int(math.Round(50 * pitch))
	if p < 0 {
		return 0
	}
	if p > 99 {
		return 99
	}
	return p
}

// parseEspeakVoices reads `espeak --voices` output:
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US
func parseEspeakVoices(out []byte) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			first = false
			if strings.HasPrefix(strings.TrimSpace(line), "Pty") {
				continue
			}
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		lang, gender, name := fields[1], fields[2], fields[3]
		display := strings.ReplaceAll(name, "_", " ")
		switch {
		case strings.HasSuffix(gender, "/F"):
			display += " (female)"
		case strings.HasSuffix(gender, "/M"):
			display += " (male)"
		}
		id := lang
		if len(fields) >= 5 {
			id = fields[4]
		}
		voices = append(voices, Voice{ID: id, Name: display, Lang: lang})
	}
	return voices
}

var sayVoiceLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}[_-][A-Za-z0-9]+)\s+#`)

// parseSayVoices reads `say -v ?` output:
//
//	Samantha            en_US    # Hello, my name is Samantha.
func parseSayVoices(out []byte) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		m := sayVoiceLine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		voices = append(voices, Voice{ID: name, Name: name, Lang: strings.ReplaceAll(m[2], "_", "-")})
	}
	return voices
}
