package personality

import (
	"math/rand/v2"
	"slices"
	"sync"
)

const recentLimit = 5

// Picker draws random lines while steering clear of the last few it returned per key.
type Picker struct {
	mu     sync.Mutex
	rng    *rand.Rand
	recent map[string][]string
}

func NewPicker(rng *rand.Rand) *Picker {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Picker{rng: rng, recent: map[string][]string{}}
}

func (p *Picker) Pick(key string, lines []string) string {
	if len(lines) == 0 {
		return ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	hist := p.recent[key]
	avail := make([]string, 0, len(lines))
	for _, l := range lines {
		if !slices.Contains(hist, l) {
			avail = append(avail, l)
		}
	}

	// everything was used lately: only avoid an immediate repeat
	if len(avail) == 0 {
		last := hist[len(hist)-1]
		for _, l := range lines {
			if l != last {
				avail = append(avail, l)
			}
		}
		if len(avail) == 0 {
			avail = lines
		}
	}

	out := avail[p.rng.IntN(len(avail))]

	hist = append(hist, out)
	if len(hist) > recentLimit {
		hist = hist[len(hist)-recentLimit:]
	}
	p.recent[key] = hist

	return out
}

func (p *Picker) Float64() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}

func (p *Picker) IntN(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.IntN(n)
}
