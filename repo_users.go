package walletauth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the persistence contract for user records. It extends the
// generic repository with the lookups the challenge and signup flows need.
type Users interface {
	repository.Repository[*User]

	GetOrCreate(ctx context.Context, record *User) (*User, error)
	GetOrCreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)
	Patch(ctx context.Context, id uuid.UUID, patch UserPatch) (*User, error)
	PatchTx(ctx context.Context, tx bun.IDB, id uuid.UUID, patch UserPatch) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

// NewUsersRepository creates the bun-backed Users repository.
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	options := resolveUserIdentifier(identifier)
	if len(options) == 0 {
		options = []identifierOption{
			{
				column: "id",
				value:  strings.TrimSpace(identifier),
			},
		}
	}

	for _, opt := range options {
		record := &User{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *users) GetOrCreate(ctx context.Context, record *User) (*User, error) {
	return a.GetOrCreateTx(ctx, a.db, record)
}

func (a *users) GetOrCreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	identifier := record.Email
	if record.ID != uuid.Nil {
		identifier = record.ID.String()
	}

	user, err := a.Repository.GetByIdentifierTx(ctx, tx, identifier)
	if err == nil {
		return user, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	return a.CreateTx(ctx, tx, record)
}

func (a *users) Patch(ctx context.Context, id uuid.UUID, patch UserPatch) (*User, error) {
	return a.PatchTx(ctx, a.db, id, patch)
}

func (a *users) PatchTx(ctx context.Context, tx bun.IDB, id uuid.UUID, patch UserPatch) (*User, error) {
	record := &User{ID: id}

	if patch.LastSeenAt != nil {
		record.LastSeenAt = patch.LastSeenAt
	}
	if patch.EmailValidated != nil {
		record.EmailValidated = *patch.EmailValidated
	}
	if patch.Role != nil {
		record.Role = *patch.Role
	}

	return a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
}

// UserDirectory adapts the Users repository to the IdentityStore interface
// the orchestration layer consumes. Not-found lookups come back as the
// package sentinel so callers can branch with goerrors.IsNotFound.
type UserDirectory struct {
	repo Users
}

var _ IdentityStore = (*UserDirectory)(nil)

// NewUserDirectory wraps a Users repository as an IdentityStore.
func NewUserDirectory(repo Users) *UserDirectory {
	return &UserDirectory{repo: repo}
}

func (d *UserDirectory) FindUserByIdentifier(ctx context.Context, identifier string) (*User, error) {
	user, err := d.repo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, withMetadata(ErrUserNotFound, map[string]any{
				"identifier": identifier,
			})
		}
		return nil, err
	}
	return user, nil
}

func (d *UserDirectory) CreateUser(ctx context.Context, user *User) (*User, error) {
	if user != nil && user.PasswordHash == "" && user.IsWalletUser() {
		user.PasswordHash = RandomPasswordHash()
	}
	return d.repo.Create(ctx, user)
}

func (d *UserDirectory) PatchUser(ctx context.Context, id uuid.UUID, patch UserPatch) (*User, error) {
	user, err := d.repo.Patch(ctx, id, patch)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, withMetadata(ErrUserNotFound, map[string]any{
				"id": id.String(),
			})
		}
		return nil, err
	}
	return user, nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleGuest
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

type identifierOption struct {
	column string
	value  string
}

// resolveUserIdentifier maps a free-form identifier to the columns worth
// probing. Wallet identifiers parse as emails, so the synthetic
// <address>@wallet.local form needs no special casing here.
func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 3)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  trimmed,
		})
	}

	options = append(options, identifierOption{
		column: "username",
		value:  trimmed,
	})

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
