package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolume = 150

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type streamInfo struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

// Ducker fades PulseAudio sink inputs other than our own player while we speak.
type Ducker struct {
	mu        sync.Mutex
	active    bool
	selfNames []string
	original  map[int]int
	minVolume int

	// pactl seams
	list func(ctx context.Context) ([]streamInfo, error)
	set  func(ctx context.Context, id, percent int) error
}

func NewDucker(selfNames []string, minVolume int) *Ducker {
	return &Ducker{
		selfNames: slices.Clone(selfNames),
		original:  map[int]int{},
		minVolume: clampVolume(minVolume),
		list:      listStreams,
		set:       setSinkInputVolume,
	}
}

// DuckOthers fades every foreign stream to current*factor, never below minVolume.
func (d *Ducker) DuckOthers(ctx context.Context, factor float64, fade time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.original = map[int]int{}
	var targets []fadeTarget
	for _, s := range streams {
		if d.isSelf(s) {
			continue
		}
		to := int(math.Round(float64(s.Volume) * factor))
		to = clampVolume(max(to, d.minVolume))

		d.original[s.ID] = s.Volume
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: to})
	}

	if err := d.fade(ctx, targets, fade); err != nil {
		return err
	}
	d.active = true
	return nil
}

// UnduckOthers restores the streams DuckOthers touched. Streams that appeared since are left alone.
func (d *Ducker) UnduckOthers(ctx context.Context, fade time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	streams, err := d.list(ctx)
	if err != nil {
		return err
	}

	var targets []fadeTarget
	for _, s := range streams {
		orig, ok := d.original[s.ID]
		if !ok || d.isSelf(s) {
			continue
		}
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: orig})
	}

	if err := d.fade(ctx, targets, fade); err != nil {
		return err
	}
	d.original = map[int]int{}
	d.active = false
	return nil
}

func (d *Ducker) isSelf(s streamInfo) bool {
	return slices.Contains(d.selfNames, s.AppName)
}

// fade steps every target linearly in 10ms increments.
func (d *Ducker) fade(ctx context.Context, targets []fadeTarget, duration time.Duration) error {
	if len(targets) == 0 {
		return nil
	}

	steps := max(int(duration/(10*time.Millisecond)), 1)
	if duration <= 0 {
		steps = 0
	}

	for i := 0; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := 1.0
		if steps > 0 {
			frac = float64(i) / float64(steps)
		}
		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := d.set(ctx, t.id, v); err != nil {
				return fmt.Errorf("set volume of sink input %d: %w", t.id, err)
			}
		}

		if i < steps {
			time.Sleep(duration / time.Duration(steps))
		}
	}
	return nil
}

func listStreams(ctx context.Context) ([]streamInfo, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func parseSinkInputs(text string) []streamInfo {
	var res []streamInfo

	blocks := strings.Split(text, "Sink Input #")
	for _, block := range blocks[1:] {
		head, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(head))
		if err != nil {
			continue
		}

		s := streamInfo{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); m != nil {
					s.Volume, _ = strconv.Atoi(m[1])
				}
			}

			// application.name = "Firefox"
			if rest, ok := strings.CutPrefix(line, "application.name = "); ok && s.AppName == "" {
				s.AppName = strings.Trim(rest, `"`)
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res
}

func setSinkInputVolume(ctx context.Context, id, percent int) error {
	arg := strconv.Itoa(clampVolume(percent)) + "%"
	return exec.CommandContext(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), arg).Run()
}

func clampVolume(v int) int {
	return min(max(v, 0), maxVolume)
}
