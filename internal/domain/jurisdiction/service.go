package jurisdiction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/casewatch/casewatch/internal/platform/db"
)

type Service struct {
	repo Repository
	tx   db.Transactor
}

func NewService(repo Repository, tx db.Transactor) *Service {
	if tx == nil {
		tx = db.NoTx{}
	}
	return &Service{repo: repo, tx: tx}
}

func (s *Service) List(ctx context.Context) ([]*Jurisdiction, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Jurisdiction, error) {
	return s.repo.GetByID(ctx, id)
}

// Tree loads the full hierarchy.
func (s *Service) Tree(ctx context.Context) (*Tree, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jurisdictions: %w", err)
	}
	return NewTree(all)
}

// Subtree returns id and the ids of all its descendants.
func (s *Service) Subtree(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	tree, err := s.Tree(ctx)
	if err != nil {
		return nil, err
	}
	ids := tree.Subtree(id)
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return ids, nil
}

// Seed creates the hierarchy described by roots. Existing (parent, name)
// pairs are reused and only have their email refreshed, so seeding twice
// is a no-op. It returns the number of jurisdictions created.
func (s *Service) Seed(ctx context.Context, roots []SeedNode) (int, error) {
	created := 0
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var walk func(nodes []SeedNode, parent *Jurisdiction) error
		walk = func(nodes []SeedNode, parent *Jurisdiction) error {
			for _, n := range nodes {
				j, isNew, err := s.upsert(ctx, n, parent)
				if err != nil {
					return err
				}
				if isNew {
					created++
				}
				if err := walk(n.Children, j); err != nil {
					return err
				}
			}
			return nil
		}
		return walk(roots, nil)
	})
	return created, err
}

func (s *Service) upsert(ctx context.Context, n SeedNode, parent *Jurisdiction) (*Jurisdiction, bool, error) {
	var parentID *uuid.UUID
	path := n.Name
	if parent != nil {
		parentID = &parent.ID
		path = strings.Join([]string{parent.Path, n.Name}, ", ")
	}
	var email *string
	if n.Email != "" {
		email = &n.Email
	}

	existing, err := s.repo.FindChild(ctx, parentID, n.Name)
	switch {
	case err == nil:
		if !sameEmail(existing.Email, email) {
			if err := s.repo.UpdateEmail(ctx, existing.ID, email); err != nil {
				return nil, false, fmt.Errorf("update %s: %w", path, err)
			}
			existing.Email = email
		}
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("find %s: %w", path, err)
	}

	j := &Jurisdiction{ParentID: parentID, Name: n.Name, Path: path, Email: email}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, false, fmt.Errorf("create %s: %w", path, err)
	}
	return j, true, nil
}

func sameEmail(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
