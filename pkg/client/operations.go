package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/Sternrassler/wcl-client/pkg/pagination"
	"github.com/Sternrassler/wcl-client/pkg/query"
)

// Operations of the Warcraft Logs v1 API.
var (
	GuildReportsOperation = &query.Operation{
		Name:          "guild_reports",
		Endpoint:      "reports/guild/:guildName/:serverName/:serverRegion",
		Params:        []string{"guildName", "serverName", "serverRegion", "start", "end"},
		Subject:       "guildName",
		Discriminator: "serverRegion",
	}

	ReportFightsOperation = &query.Operation{
		Name:     "fights",
		Endpoint: "report/fights/:code",
		Params:   []string{"code"},
		Subject:  "code",
	}

	ReportEventsOperation = &query.Operation{
		Name:     "events",
		Endpoint: "report/events/:view/:code",
		Params: []string{
			"view", "code", "start", "end", "hostility",
			"sourceid", "sourceinstance", "sourceclass",
			"targetid", "targetinstance", "targetclass",
			"abilityid", "death", "options", "cutoff", "encounter", "wipes",
			"filter", "translate",
		},
		Subject:       "code",
		Discriminator: "view",
		Pagination:    pagination.Cursor("nextPageTimestamp", "start", "events"),
	}

	ReportTablesOperation = &query.Operation{
		Name:     "tables",
		Endpoint: "report/tables/:view/:code",
		Params: []string{
			"view", "code", "start", "end", "hostility", "by",
			"sourceid", "sourceinstance", "sourceclass",
			"targetid", "targetinstance", "targetclass",
			"abilityid", "options", "cutoff", "encounter", "wipes",
			"filter", "translate",
		},
		Subject:       "code",
		Discriminator: "view",
	}

	EncounterRankingsOperation = &query.Operation{
		Name:     "rankings",
		Endpoint: "rankings/encounter/:encounterID",
		Params: []string{
			"encounterID", "metric", "size", "difficulty", "partition",
			"class", "spec", "bracket", "server", "region",
			"page", "limit", "filter", "includeCombatantInfo",
		},
		Subject:       "encounterID",
		Discriminator: "metric",
		Pagination:    pagination.PageNumber("hasMorePages", "page", "page", "rankings"),
	}

	ZonesOperation = &query.Operation{
		Name:     "zones",
		Endpoint: "zones",
	}
)

var catalog = []*query.Operation{
	GuildReportsOperation,
	ReportFightsOperation,
	ReportEventsOperation,
	ReportTablesOperation,
	EncounterRankingsOperation,
	ZonesOperation,
}

// Operations returns every supported operation.
func Operations() []*query.Operation {
	return append([]*query.Operation(nil), catalog...)
}

// Operation looks up an operation by name.
func Operation(name string) (*query.Operation, bool) {
	for _, op := range catalog {
		if op.Name == name {
			return op, true
		}
	}
	return nil, false
}

// NewQuery builds a query for the named operation, applying the operation's
// defaults and normalisation (server slug, default ranking metric).
func NewQuery(name string, values query.Values) (query.Query, error) {
	op, ok := Operation(name)
	if !ok {
		return query.Query{}, fmt.Errorf("unknown operation %q", name)
	}

	v := make(query.Values, len(values))
	for k, val := range values {
		v[k] = val
	}

	switch op {
	case GuildReportsOperation:
		if s, ok := v["serverName"].(string); ok {
			v["serverName"] = ServerSlug(s)
		}
	case EncounterRankingsOperation:
		if isUnset(v["metric"]) {
			v["metric"] = "speed"
		}
		if isUnset(v["includeCombatantInfo"]) {
			v["includeCombatantInfo"] = false
		}
	}

	return query.New(op, v)
}

func isUnset(v any) bool {
	_, ok, err := query.FormatValue(v)
	return !ok && err == nil
}

// ServerSlug converts a realm name to its URL form: lower case, spaces
// replaced by dashes ("Pyrewood Village" → "pyrewood-village").
func ServerSlug(server string) string {
	return strings.ReplaceAll(strings.ToLower(server), " ", "-")
}

// GuildReportsParams selects the reports uploaded for a guild.
type GuildReportsParams struct {
	GuildName    string
	ServerName   string
	ServerRegion string

	// Start and End are UNIX timestamps in milliseconds.
	Start *int64
	End   *int64
}

// Query builds the guild reports query.
func (p GuildReportsParams) Query() (query.Query, error) {
	return NewQuery(GuildReportsOperation.Name, query.Values{
		"guildName":    p.GuildName,
		"serverName":   p.ServerName,
		"serverRegion": p.ServerRegion,
		"start":        p.Start,
		"end":          p.End,
	})
}

// GuildReports lists the reports of a guild.
func (c *Client) GuildReports(ctx context.Context, p GuildReportsParams) (json.RawMessage, error) {
	q, err := p.Query()
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, q)
}

// ReportFights returns the fights and actors of a report.
func (c *Client) ReportFights(ctx context.Context, code string) (json.RawMessage, error) {
	q, err := NewQuery(ReportFightsOperation.Name, query.Values{"code": code})
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, q)
}

// EventsParams selects the events of a report. Nil fields are not sent.
type EventsParams struct {
	View string
	Code string

	// Start and End are offsets from the report start in milliseconds.
	Start *int64
	End   *int64

	Hostility      *int
	SourceID       *int
	SourceInstance *int
	SourceClass    *string
	TargetID       *int
	TargetInstance *int
	TargetClass    *string
	AbilityID      *int
	Death          *int
	Options        *int
	Cutoff         *int
	Encounter      *int
	Wipes          *int
	Filter         *string
	Translate      *bool
}

// Query builds the report events query.
func (p EventsParams) Query() (query.Query, error) {
	return NewQuery(ReportEventsOperation.Name, query.Values{
		"view":           p.View,
		"code":           p.Code,
		"start":          p.Start,
		"end":            p.End,
		"hostility":      p.Hostility,
		"sourceid":       p.SourceID,
		"sourceinstance": p.SourceInstance,
		"sourceclass":    p.SourceClass,
		"targetid":       p.TargetID,
		"targetinstance": p.TargetInstance,
		"targetclass":    p.TargetClass,
		"abilityid":      p.AbilityID,
		"death":          p.Death,
		"options":        p.Options,
		"cutoff":         p.Cutoff,
		"encounter":      p.Encounter,
		"wipes":          p.Wipes,
		"filter":         p.Filter,
		"translate":      p.Translate,
	})
}

// ReportEvents returns every event of a report view, following
// nextPageTimestamp until the last page.
func (c *Client) ReportEvents(ctx context.Context, p EventsParams) (json.RawMessage, error) {
	q, err := p.Query()
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, q)
}

// TablesParams selects an aggregated table of a report. Nil fields are not sent.
type TablesParams struct {
	View string
	Code string

	Start *int64
	End   *int64

	Hostility      *int
	By             *string
	SourceID       *int
	SourceInstance *int
	SourceClass    *string
	TargetID       *int
	TargetInstance *int
	TargetClass    *string
	AbilityID      *int
	Options        *int
	Cutoff         *int
	Encounter      *int
	Wipes          *int
	Filter         *string
	Translate      *bool
}

// Query builds the report tables query.
func (p TablesParams) Query() (query.Query, error) {
	return NewQuery(ReportTablesOperation.Name, query.Values{
		"view":           p.View,
		"code":           p.Code,
		"start":          p.Start,
		"end":            p.End,
		"hostility":      p.Hostility,
		"by":             p.By,
		"sourceid":       p.SourceID,
		"sourceinstance": p.SourceInstance,
		"sourceclass":    p.SourceClass,
		"targetid":       p.TargetID,
		"targetinstance": p.TargetInstance,
		"targetclass":    p.TargetClass,
		"abilityid":      p.AbilityID,
		"options":        p.Options,
		"cutoff":         p.Cutoff,
		"encounter":      p.Encounter,
		"wipes":          p.Wipes,
		"filter":         p.Filter,
		"translate":      p.Translate,
	})
}

// ReportTables returns an aggregated table of a report view.
func (c *Client) ReportTables(ctx context.Context, p TablesParams) (json.RawMessage, error) {
	q, err := p.Query()
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, q)
}

// RankingsParams selects the rankings of an encounter. Metric defaults to
// "speed" and IncludeCombatantInfo to false.
type RankingsParams struct {
	EncounterID int

	Metric               *string
	Size                 *int
	Difficulty           *int
	Partition            *int
	Class                *int
	Spec                 *int
	Bracket              *int
	Server               *string
	Region               *string
	Page                 *int
	Limit                *int
	Filter               *string
	IncludeCombatantInfo *bool
}

// Query builds the encounter rankings query.
func (p RankingsParams) Query() (query.Query, error) {
	return NewQuery(EncounterRankingsOperation.Name, query.Values{
		"encounterID":          p.EncounterID,
		"metric":               p.Metric,
		"size":                 p.Size,
		"difficulty":           p.Difficulty,
		"partition":            p.Partition,
		"class":                p.Class,
		"spec":                 p.Spec,
		"bracket":              p.Bracket,
		"server":               p.Server,
		"region":               p.Region,
		"page":                 p.Page,
		"limit":                p.Limit,
		"filter":               p.Filter,
		"includeCombatantInfo": p.IncludeCombatantInfo,
	})
}

// EncounterRankings returns every ranking of an encounter, following
// hasMorePages until the last page.
func (c *Client) EncounterRankings(ctx context.Context, p RankingsParams) (json.RawMessage, error) {
	q, err := p.Query()
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, q)
}

// Zones returns the zones and their encounters.
func (c *Client) Zones(ctx context.Context) (json.RawMessage, error) {
	q, err := NewQuery(ZonesOperation.Name, nil)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, q)
}
