package registry

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/st3v3nmw/raftsim/internal/attest"
)

func init() {
	log.SetFlags(0)
}

var collections = make(map[string]*Collection)

// Collection is a named group of scenario stages run in order.
type Collection struct {
	Key        string
	Name       string
	Summary    string
	Stages     map[string]*Stage
	StageOrder []string
}

type Stage struct {
	Name string
	Fn   StageFunc
}

type StageFunc func() *attest.Suite

func (c *Collection) AddStage(key, name string, fn StageFunc) {
	if c.Stages == nil {
		c.Stages = make(map[string]*Stage)
	}

	c.Stages[key] = &Stage{Name: name, Fn: fn}
	c.StageOrder = append(c.StageOrder, key)
}

func (c *Collection) GetStage(key string) (*Stage, error) {
	stage, exists := c.Stages[key]
	if !exists {
		return nil, fmt.Errorf("stage %q not found in collection %s", key, c.Key)
	}

	return stage, nil
}

func (c *Collection) Len() int {
	return len(c.StageOrder)
}

// Describe lists the collection's stages for humans.
func (c *Collection) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s - %s\n", c.Key, c.Name)
	if c.Summary != "" {
		fmt.Fprintf(&b, "  %s\n", c.Summary)
	}

	for i, key := range c.StageOrder {
		fmt.Fprintf(&b, "  %d. %s - %s\n", i+1, key, c.Stages[key].Name)
	}

	return b.String()
}

func RegisterCollection(key string, collection *Collection) {
	if len(collection.Stages) == 0 {
		log.Fatalf("Cannot register empty collection %s.", key)
	}

	collection.Key = key
	collections[key] = collection
}

func GetCollection(key string) (*Collection, error) {
	collection, exists := collections[key]
	if !exists {
		return nil, fmt.Errorf("collection %s not found", key)
	}

	return collection, nil
}

func GetAllCollections() map[string]*Collection {
	return collections
}

// Keys returns the registered collection keys in lexical order.
func Keys() []string {
	keys := make([]string, 0, len(collections))
	for key := range collections {
		keys = append(keys, key)
	}

	sort.Strings(keys)
	return keys
}
