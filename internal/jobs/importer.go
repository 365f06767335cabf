// SPDX-License-Identifier: GPL-3.0-or-later

package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bitergia/sortinghat-openinfra/internal/identity"
	"github.com/bitergia/sortinghat-openinfra/internal/log"
	"github.com/bitergia/sortinghat-openinfra/internal/metrics"
	"github.com/bitergia/sortinghat-openinfra/internal/openinfra"
	"github.com/bitergia/sortinghat-openinfra/internal/sortinghat"
)

type outcomeKind int

const (
	outcomeImported outcomeKind = iota
	outcomeUnchanged
	outcomeSkipped
	outcomeFailed
)

type importOutcome struct {
	kind       outcomeKind
	individual identity.Individual
}

// importMember parses one member record and pushes the resulting
// individual into SortingHat. Members whose fingerprint matches the
// cached one are skipped without touching the backend.
func (s *Syncer) importMember(ctx context.Context, cfg Config, m openinfra.Member) importOutcome {
	logger := log.WithComponentFromContext(ctx, "jobs").With().
		Int64(log.FieldMemberID, m.ID).
		Logger()

	ind, ok := openinfra.ParseMember(m)
	if !ok {
		logger.Debug().
			Str("event", "member.skipped").
			Msg("member has no usable identity")
		return importOutcome{kind: outcomeSkipped}
	}

	key := fingerprintKey(m.ID)
	fp := fingerprint(m)
	if !cfg.NoCache {
		if cached, found := s.cache.Get(key); found {
			if prev, isStr := cached.(string); isStr && prev == fp {
				metrics.IncImported("unchanged")
				return importOutcome{kind: outcomeUnchanged, individual: ind}
			}
		}
	}

	if err := s.importIndividual(ctx, ind); err != nil {
		logger.Error().
			Err(err).
			Str("event", "member.import_failed").
			Msg("failed to import individual")
		metrics.IncImported("failed")
		return importOutcome{kind: outcomeFailed}
	}

	if !cfg.NoCache {
		s.cache.Set(key, fp, cfg.CacheTTL)
	}
	metrics.IncImported("imported")
	logger.Debug().
		Str("event", "member.imported").
		Msg("individual imported")
	return importOutcome{kind: outcomeImported, individual: ind}
}

// importIndividual pushes one individual into SortingHat: all its
// identities, its unified profile and its enrollments. Re-imports are
// idempotent: an identity, organization or enrollment that already
// exists is not an error.
func (s *Syncer) importIndividual(ctx context.Context, ind identity.Individual) error {
	var rootUUID string

	for i, ident := range ind.Identities {
		shUUID, err := s.backend.AddIdentity(ctx, ident.Source, ident.Name, ident.Email, ident.Username, rootUUID)
		if err != nil {
			if !errors.Is(err, sortinghat.ErrAlreadyExists) {
				return fmt.Errorf("add identity %s/%s: %w", ident.Source, ident.Username, err)
			}
			// Recompute the identifier the backend assigned earlier
			// so profile and enrollments still land on the right
			// individual.
			shUUID = sortinghat.GenerateUUID(ident.Source, ident.Name, ident.Email, ident.Username)
		}
		if i == 0 {
			rootUUID = shUUID
		}
	}

	if err := s.backend.UpdateProfile(ctx, rootUUID, profileInput(ind.Profile)); err != nil {
		metrics.IncImportFailure("profile")
		return fmt.Errorf("update profile %s: %w", rootUUID, err)
	}

	for _, enr := range ind.Enrollments {
		if err := s.backend.AddOrganization(ctx, enr.Organization.Name); err != nil &&
			!errors.Is(err, sortinghat.ErrAlreadyExists) {
			metrics.IncImportFailure("organization")
			return fmt.Errorf("add organization %q: %w", enr.Organization.Name, err)
		}
		if err := s.backend.Enroll(ctx, rootUUID, enr.Organization.Name, enr.Start, enr.End); err != nil &&
			!errors.Is(err, sortinghat.ErrAlreadyExists) {
			metrics.IncImportFailure("enrollment")
			return fmt.Errorf("enroll %s in %q: %w", rootUUID, enr.Organization.Name, err)
		}
	}
	return nil
}

func profileInput(p identity.Profile) sortinghat.ProfileInput {
	isBot := p.IsBot
	return sortinghat.ProfileInput{
		Name:   p.Name,
		Gender: p.Gender,
		IsBot:  &isBot,
	}
}

// fingerprint hashes the raw member record. A member whose fingerprint
// is unchanged since the last run cannot produce a different individual.
func fingerprint(m openinfra.Member) string {
	raw, err := json.Marshal(m)
	if err != nil {
		// Marshal of a plain struct cannot fail; keep the importer going.
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func fingerprintKey(id int64) string {
	return fmt.Sprintf("member:%d", id)
}
