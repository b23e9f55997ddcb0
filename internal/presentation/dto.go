// Package presentation converts repository results into JSON-friendly DTOs
// shared by the CLI and the HTTP API.
package presentation

import (
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/zjrosen/obr/internal/attr"
	"github.com/zjrosen/obr/internal/config"
	"github.com/zjrosen/obr/internal/filter"
	"github.com/zjrosen/obr/internal/infrastructure/sqlite"
	"github.com/zjrosen/obr/internal/loader"
	"github.com/zjrosen/obr/internal/repository"
	"github.com/zjrosen/obr/internal/resource"
)

// RequirementDTO is a free-standing requirement as accepted on the command
// line and over HTTP.
type RequirementDTO struct {
	Namespace  string            `json:"namespace"`
	Filter     string            `json:"filter,omitempty"`
	Directives map[string]string `json:"directives,omitempty"`
}

// CapabilityDTO represents a matching capability and its owning resource.
type CapabilityDTO struct {
	Resource   string            `json:"resource"`
	Namespace  string            `json:"namespace"`
	Directives map[string]string `json:"directives,omitempty"`
	Attributes map[string]any    `json:"attributes"`
}

// ProvidersDTO pairs a requirement with its providers. Providers is always
// present, possibly empty.
type ProvidersDTO struct {
	Requirement RequirementDTO  `json:"requirement"`
	Providers   []CapabilityDTO `json:"providers"`
}

// RepositoryDTO describes a configured repository.
type RepositoryDTO struct {
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Expiration      string     `json:"expiration,omitempty"`
	RefreshInterval string     `json:"refresh_interval,omitempty"`
	Tolerant        bool       `json:"tolerant,omitempty"`
	Watch           bool       `json:"watch,omitempty"`
	ReferralDepth   int        `json:"referral_depth,omitempty"`
	Stored          *StoredDTO `json:"stored,omitempty"`
}

// StoredDTO describes the persisted copy of a repository document.
type StoredDTO struct {
	Size      int64     `json:"size"`
	Increment int64     `json:"increment"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SnapshotDTO summarises a loaded repository snapshot.
type SnapshotDTO struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Name         string    `json:"name,omitempty"`
	Increment    int64     `json:"increment"`
	Fingerprint  string    `json:"fingerprint"`
	LoadedAt     time.Time `json:"loaded_at"`
	Resources    int       `json:"resources"`
	Capabilities int       `json:"capabilities"`
	Referrals    []string  `json:"referrals,omitempty"`
}

// ParseRequirement parses the "namespace:filter" shorthand. The filter part
// is optional; a bare namespace matches every capability in it. A filter
// part not starting with '(' is read as comma-separated key=value pairs
// and converted to a conjunction.
func ParseRequirement(s string) (RequirementDTO, error) {
	ns, f, _ := strings.Cut(strings.TrimSpace(s), ":")
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return RequirementDTO{}, errors.New("requirement namespace is required")
	}
	f = strings.TrimSpace(f)
	if f != "" && !strings.HasPrefix(f, "(") {
		pairs, err := parsePairs(f)
		if err != nil {
			return RequirementDTO{}, err
		}
		f = filter.FromAttributes(pairs).String()
	}
	return RequirementDTO{Namespace: ns, Filter: f}, nil
}

func parsePairs(s string) (map[string]string, error) {
	pairs := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid attribute pair %q, want key=value", strings.TrimSpace(part))
		}
		if _, dup := pairs[k]; dup {
			return nil, fmt.Errorf("duplicate attribute %q", k)
		}
		pairs[k] = strings.TrimSpace(v)
	}
	return pairs, nil
}

// ToRequirement builds the domain requirement. Filter wins over a filter
// entry in Directives.
func (r RequirementDTO) ToRequirement() (*resource.Requirement, error) {
	if strings.TrimSpace(r.Namespace) == "" {
		return nil, errors.New("requirement namespace is required")
	}
	dirs := maps.Clone(r.Directives)
	if dirs == nil {
		dirs = map[string]string{}
	}
	if r.Filter != "" {
		dirs[resource.DirectiveFilter] = r.Filter
	}
	return resource.NewRequirement(r.Namespace, dirs, attr.Attributes{})
}

// FromRequirement converts a domain requirement.
func FromRequirement(req *resource.Requirement) RequirementDTO {
	dirs := req.Directives()
	f := dirs[resource.DirectiveFilter]
	delete(dirs, resource.DirectiveFilter)
	if len(dirs) == 0 {
		dirs = nil
	}
	return RequirementDTO{Namespace: req.Namespace(), Filter: f, Directives: dirs}
}

// FromCapability converts a domain capability.
func FromCapability(c *resource.Capability) CapabilityDTO {
	dirs := c.Directives()
	if len(dirs) == 0 {
		dirs = nil
	}
	owner := ""
	if r := c.Resource(); r != nil {
		owner = r.String()
	}
	return CapabilityDTO{
		Resource:   owner,
		Namespace:  c.Namespace(),
		Directives: dirs,
		Attributes: c.Attributes().Native(),
	}
}

// FromProviders converts a providers map, keeping the order of reqs.
func FromProviders(reqs []*resource.Requirement, providers repository.Providers) []ProvidersDTO {
	out := make([]ProvidersDTO, len(reqs))
	for i, req := range reqs {
		caps := providers[req]
		dto := ProvidersDTO{
			Requirement: FromRequirement(req),
			Providers:   make([]CapabilityDTO, len(caps)),
		}
		for j, c := range caps {
			dto.Providers[j] = FromCapability(c)
		}
		out[i] = dto
	}
	return out
}

// FromSnapshot converts a loaded snapshot. A nil snapshot yields nil.
func FromSnapshot(s *loader.Snapshot) *SnapshotDTO {
	if s == nil {
		return nil
	}
	dto := &SnapshotDTO{
		ID:          s.ID.String(),
		Source:      s.Source,
		Name:        s.Name,
		Increment:   s.Increment,
		Fingerprint: hex.EncodeToString(s.Fingerprint[:]),
		LoadedAt:    s.LoadedAt,
	}
	if s.Repository != nil {
		dto.Resources = len(s.Repository.Resources())
		dto.Capabilities = s.Repository.CapabilityCount()
	}
	for _, ref := range s.Referrals {
		dto.Referrals = append(dto.Referrals, ref.URL)
	}
	return dto
}

// FromRepositoryConfig converts a configured repository.
func FromRepositoryConfig(r config.RepositoryConfig) RepositoryDTO {
	return RepositoryDTO{
		Name:            r.Name,
		URL:             r.URL,
		Expiration:      durationString(r.Expiration),
		RefreshInterval: durationString(r.RefreshInterval),
		Tolerant:        r.Tolerant,
		Watch:           r.Watch,
		ReferralDepth:   r.ReferralDepth,
	}
}

// FromDocumentInfo converts a stored document summary.
func FromDocumentInfo(info sqlite.DocumentInfo) *StoredDTO {
	return &StoredDTO{Size: info.Size, Increment: info.Increment, FetchedAt: info.FetchedAt}
}

func durationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
