package entertainment

import (
	_ "embed"
	"fmt"
	log "log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"aigod/pkg/cache"
)

type Kind string

const (
	Joke   Kind = "joke"
	Riddle Kind = "riddle"
	Story  Kind = "story"
	Fact   Kind = "fact"
)

var triggers = map[string]Kind{
	"tell me a joke":   Joke,
	"tell me a riddle": Riddle,
	"tell me a story":  Story,
	"tell me a fact":   Fact,
}

// Trigger matches the exact request phrases.
func Trigger(normalized string) (Kind, bool) {
	k, ok := triggers[normalized]
	return k, ok
}

// Item is one piece of content, spoken as Parts in order.
type Item struct {
	Kind  Kind
	Index int
	Parts []string
}

type content struct {
	Jokes []struct {
		Setup     string `yaml:"setup"`
		Punchline string `yaml:"punchline"`
	} `yaml:"jokes"`
	Riddles []struct {
		Riddle string `yaml:"riddle"`
		Answer string `yaml:"answer"`
	} `yaml:"riddles"`
	Stories []struct {
		Title   string `yaml:"title"`
		Content string `yaml:"content"`
	} `yaml:"stories"`
	Facts []string `yaml:"facts"`
}

//go:embed content.yaml
var contentYAML []byte

const (
	toldCapacity = 200
	toldTTL      = 2 * time.Hour
)

// Library hands out content, preferring items not told within the last two hours.
type Library struct {
	items map[Kind][]Item

	mu   sync.Mutex
	rng  *rand.Rand
	told *cache.Cache[string, struct{}]
}

func Load(rng *rand.Rand) (*Library, error) {
	var c content
	if err := yaml.Unmarshal(contentYAML, &c); err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	lib := &Library{
		items: map[Kind][]Item{},
		rng:   rng,
		told:  cache.New[string, struct{}](toldCapacity, toldTTL),
	}

	for i, j := range c.Jokes {
		lib.items[Joke] = append(lib.items[Joke], Item{Kind: Joke, Index: i, Parts: []string{j.Setup, j.Punchline}})
	}
	for i, r := range c.Riddles {
		lib.items[Riddle] = append(lib.items[Riddle], Item{Kind: Riddle, Index: i, Parts: []string{r.Riddle, "Drumroll please... " + r.Answer}})
	}
	for i, s := range c.Stories {
		lib.items[Story] = append(lib.items[Story], Item{Kind: Story, Index: i, Parts: []string{s.Title, s.Content}})
	}
	for i, f := range c.Facts {
		lib.items[Fact] = append(lib.items[Fact], Item{Kind: Fact, Index: i, Parts: []string{f}})
	}

	for _, k := range []Kind{Joke, Riddle, Story, Fact} {
		if len(lib.items[k]) == 0 {
			return nil, fmt.Errorf("no %s content", k)
		}
	}

	return lib, nil
}

func (l *Library) Count(k Kind) int { return len(l.items[k]) }

func (l *Library) Pick(k Kind) (Item, error) {
	all := l.items[k]
	if len(all) == 0 {
		return Item{}, fmt.Errorf("unknown entertainment kind %q", k)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fresh := make([]Item, 0, len(all))
	for _, it := range all {
		if !l.told.Contains(key(it)) {
			fresh = append(fresh, it)
		}
	}
	if len(fresh) == 0 {
		log.Debug("All content told recently, starting over", "kind", k)
		for _, it := range all {
			l.told.Delete(key(it))
		}
		fresh = all
	}

	it := fresh[l.rng.IntN(len(fresh))]
	l.told.Set(key(it), struct{}{})
	return it, nil
}

func key(it Item) string {
	return string(it.Kind) + ":" + strconv.Itoa(it.Index)
}
