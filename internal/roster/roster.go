// Package roster resolves which models sit on the council for a given run.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avlachos/conclave/internal/catalog"
)

var (
	ErrTooFewMembers = errors.New("at least 2 council members are required")
	ErrNoChairman    = errors.New("a chairman model is required")
	ErrEmptyMemberID = errors.New("council member id must not be empty")
)

// Roster resolves per-request model selections against configured defaults.
// The catalog check is advisory only: an unknown id gets a warning in the
// log, not a rejection, because the upstream listing lags behind new models.
type Roster struct {
	defaultCouncil  []string
	defaultChairman string
	catalog         *catalog.Catalog
}

func New(defaultCouncil []string, defaultChairman string, cat *catalog.Catalog) *Roster {
	return &Roster{
		defaultCouncil:  defaultCouncil,
		defaultChairman: defaultChairman,
		catalog:         cat,
	}
}

// Resolve returns the council and chairman for one run. Empty inputs fall
// back to the configured defaults. Duplicate members collapse onto their
// first occurrence so no model answers or votes twice.
func (r *Roster) Resolve(ctx context.Context, council []string, chairman, apiKey string) ([]string, string, error) {
	if len(council) == 0 {
		council = r.defaultCouncil
	}
	if chairman == "" {
		chairman = r.defaultChairman
	}

	seen := make(map[string]bool, len(council))
	members := make([]string, 0, len(council))
	for _, m := range council {
		if m == "" {
			return nil, "", ErrEmptyMemberID
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		members = append(members, m)
	}

	if len(members) < 2 {
		return nil, "", fmt.Errorf("%w (got %d)", ErrTooFewMembers, len(members))
	}
	if chairman == "" {
		return nil, "", ErrNoChairman
	}

	if r.catalog != nil {
		for _, m := range members {
			if !r.catalog.Has(ctx, apiKey, m) {
				slog.Warn("council member not in model listing", "model", m)
			}
		}
		if !r.catalog.Has(ctx, apiKey, chairman) {
			slog.Warn("chairman not in model listing", "model", chairman)
		}
	}

	return members, chairman, nil
}
