package stubserver

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const dnd5eBaseURL = "/api/2014"

// defaultSearchResults applies when a search does not set max_results.
const defaultSearchResults = 10

type refItem struct {
	index, name string
}

// dnd5eData is a small offline sample of the reference API.
var dnd5eData = map[string][]refItem{
	"ability-scores": {{"cha", "CHA"}, {"con", "CON"}, {"dex", "DEX"}, {"int", "INT"}, {"str", "STR"}, {"wis", "WIS"}},
	"alignments":     {{"chaotic-evil", "Chaotic Evil"}, {"lawful-good", "Lawful Good"}, {"neutral", "Neutral"}},
	"backgrounds":    {{"acolyte", "Acolyte"}},
	"classes": {
		{"barbarian", "Barbarian"}, {"bard", "Bard"}, {"cleric", "Cleric"}, {"druid", "Druid"},
		{"fighter", "Fighter"}, {"monk", "Monk"}, {"paladin", "Paladin"}, {"ranger", "Ranger"},
		{"rogue", "Rogue"}, {"sorcerer", "Sorcerer"}, {"warlock", "Warlock"}, {"wizard", "Wizard"},
	},
	"conditions":           {{"blinded", "Blinded"}, {"charmed", "Charmed"}, {"frightened", "Frightened"}, {"poisoned", "Poisoned"}},
	"damage-types":         {{"acid", "Acid"}, {"fire", "Fire"}, {"necrotic", "Necrotic"}},
	"equipment":            {{"club", "Club"}, {"dagger", "Dagger"}, {"longsword", "Longsword"}, {"shield", "Shield"}},
	"equipment-categories": {{"weapon", "Weapon"}, {"armor", "Armor"}},
	"feats":                {{"grappler", "Grappler"}},
	"features":             {{"rage", "Rage"}, {"second-wind", "Second Wind"}},
	"languages":            {{"common", "Common"}, {"dwarvish", "Dwarvish"}, {"elvish", "Elvish"}},
	"magic-items":          {{"bag-of-holding", "Bag of Holding"}, {"flame-tongue", "Flame Tongue"}},
	"magic-schools":        {{"evocation", "Evocation"}, {"necromancy", "Necromancy"}},
	"monsters": {
		{"aboleth", "Aboleth"}, {"adult-red-dragon", "Adult Red Dragon"}, {"goblin", "Goblin"},
		{"owlbear", "Owlbear"}, {"young-red-dragon", "Young Red Dragon"},
	},
	"proficiencies":     {{"light-armor", "Light Armor"}, {"skill-stealth", "Skill: Stealth"}},
	"races":             {{"dragonborn", "Dragonborn"}, {"dwarf", "Dwarf"}, {"elf", "Elf"}, {"human", "Human"}},
	"rule-sections":     {{"time", "Time"}},
	"rules":             {{"combat", "Combat"}},
	"skills":            {{"acrobatics", "Acrobatics"}, {"stealth", "Stealth"}},
	"spells":            {{"acid-arrow", "Acid Arrow"}, {"fire-bolt", "Fire Bolt"}, {"fireball", "Fireball"}, {"magic-missile", "Magic Missile"}},
	"subclasses":        {{"berserker", "Berserker"}, {"evocation", "Evocation"}},
	"subraces":          {{"high-elf", "High Elf"}, {"hill-dwarf", "Hill Dwarf"}},
	"traits":            {{"darkvision", "Darkvision"}},
	"weapon-properties": {{"finesse", "Finesse"}, {"light", "Light"}},
}

func dnd5eEndpoints() []string {
	eps := make([]string, 0, len(dnd5eData))
	for ep := range dnd5eData {
		eps = append(eps, ep)
	}
	sort.Strings(eps)
	return eps
}

func apiItem(endpoint string, it refItem) map[string]any {
	return map[string]any{
		"index":    it.index,
		"name":     it.name,
		"url":      dnd5eBaseURL + "/" + endpoint + "/" + it.index,
		"endpoint": endpoint,
	}
}

func validEndpoint(endpoint string) ([]refItem, error) {
	items, ok := dnd5eData[endpoint]
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "Invalid endpoint: %s", endpoint)
	}
	return items, nil
}

// Dnd5eHandlers returns handlers for every method of dnd5e.Dnd5eService,
// answering from a built-in sample of the reference data.
func Dnd5eHandlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"dnd5e.Dnd5eService.HealthCheck":  dnd5eHealthCheck,
		"dnd5e.Dnd5eService.GetEndpoints": dnd5eGetEndpoints,
		"dnd5e.Dnd5eService.GetList":      dnd5eGetList,
		"dnd5e.Dnd5eService.GetItem":      dnd5eGetItem,
		"dnd5e.Dnd5eService.SearchItems":  dnd5eSearchItems,
	}
}

func dnd5eHealthCheck(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"status":    "SERVING",
		"message":   "Server is healthy",
		"timestamp": time.Now().UnixMilli(),
	}, nil
}

func dnd5eGetEndpoints(_ context.Context, _ map[string]any) (map[string]any, error) {
	eps := dnd5eEndpoints()
	return map[string]any{
		"endpoints":  eps,
		"totalCount": len(eps),
	}, nil
}

// dnd5eGetList pages through an endpoint. A page size of zero returns the
// whole list.
func dnd5eGetList(_ context.Context, req map[string]any) (map[string]any, error) {
	endpoint := stringField(req, "endpoint")
	items, err := validEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	page := intField(req, "page")
	pageSize := intField(req, "pageSize")
	if page < 0 || pageSize < 0 {
		return nil, status.Error(codes.InvalidArgument, "page and page_size must not be negative")
	}

	start, end := 0, len(items)
	if pageSize > 0 {
		start = min(page*pageSize, len(items))
		end = min(start+pageSize, len(items))
	}

	out := make([]any, 0, end-start)
	for _, it := range items[start:end] {
		out = append(out, apiItem(endpoint, it))
	}

	return map[string]any{
		"endpoint":   endpoint,
		"items":      out,
		"totalCount": len(items),
		"page":       page,
		"pageSize":   pageSize,
		"hasMore":    end < len(items),
	}, nil
}

func dnd5eGetItem(_ context.Context, req map[string]any) (map[string]any, error) {
	endpoint := stringField(req, "endpoint")
	items, err := validEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	index := stringField(req, "index")
	for _, it := range items {
		if it.index != index {
			continue
		}
		item := apiItem(endpoint, it)
		raw, err := sonic.MarshalString(map[string]any{
			"index": it.index,
			"name":  it.name,
			"url":   item["url"],
		})
		if err != nil {
			return nil, status.Errorf(codes.Internal, "Failed to get item: %v", err)
		}
		return map[string]any{"item": item, "rawData": raw}, nil
	}
	return nil, status.Errorf(codes.NotFound, "Item not found: %s/%s", endpoint, index)
}

type searchHit struct {
	endpoint string
	item     refItem
	field    string
	score    float64
}

// dnd5eSearchItems matches the query case-insensitively against item names,
// then indexes, and ranks hits by relevance.
func dnd5eSearchItems(_ context.Context, req map[string]any) (map[string]any, error) {
	query := stringField(req, "query")
	if query == "" {
		return nil, status.Error(codes.InvalidArgument, "Search query cannot be empty")
	}

	endpoints := stringsField(req, "endpoints")
	if len(endpoints) == 0 {
		endpoints = dnd5eEndpoints()
	}
	maxResults := intField(req, "maxResults")
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}

	var hits []searchHit
	for _, ep := range endpoints {
		items, err := validEndpoint(ep)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if hit, ok := matchItem(ep, it, query); ok {
				hits = append(hits, hit)
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	results := make([]any, 0, len(hits))
	for _, h := range hits {
		results = append(results, map[string]any{
			"item":           apiItem(h.endpoint, h.item),
			"matchedField":   h.field,
			"relevanceScore": h.score,
		})
	}

	return map[string]any{
		"query":      query,
		"results":    results,
		"totalFound": len(results),
	}, nil
}

func matchItem(endpoint string, it refItem, query string) (searchHit, bool) {
	q := strings.ToLower(query)
	var field string
	switch {
	case strings.Contains(strings.ToLower(it.name), q):
		field = "name"
	case strings.Contains(strings.ToLower(it.index), q):
		field = "index"
	default:
		return searchHit{}, false
	}
	return searchHit{endpoint: endpoint, item: it, field: field, score: relevance(it, query, field)}, true
}

// relevance scores exact matches above prefix matches above substring
// matches, with a small boost for name hits. The result is capped at 1.
func relevance(it refItem, query, field string) float64 {
	var score float64
	switch {
	case it.name == query || it.index == query:
		score = 1.0
	case strings.HasPrefix(it.name, query) || strings.HasPrefix(it.index, query):
		score = 0.8
	default:
		score = 0.6
	}
	switch field {
	case "name":
		score += 0.2
	case "index":
		score += 0.1
	}
	return min(score, 1.0)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// intField reads a 32-bit integer field, which arrives as a JSON number.
func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func stringsField(m map[string]any, key string) []string {
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
