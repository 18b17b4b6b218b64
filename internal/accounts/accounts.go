// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

// Package accounts mirrors ckan organizations and users as oskari roles and users
package accounts

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/internetofwater/ckansync/internal/accounts/password"
	"github.com/internetofwater/ckansync/internal/ckan"
	"github.com/internetofwater/ckansync/internal/oskari"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

// DB is satisfied by pgxpool.Pool and pgxmock
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is the part of DB that a transaction also has
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	selectRoles = `SELECT id, name FROM oskari_roles`
	upsertRole  = `INSERT INTO oskari_roles (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id`
	deleteRole = `DELETE FROM oskari_roles WHERE id = $1`

	selectUsers = `SELECT id, user_name FROM oskari_users`
	insertUser  = `INSERT INTO oskari_users (user_name, first_name, last_name, email, uuid) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	updateUser  = `UPDATE oskari_users SET first_name = $2, last_name = $3, email = $4 WHERE id = $1`
	upsertLogin = `INSERT INTO oskari_jaas_users (login, password) VALUES ($1, $2)
ON CONFLICT (login) DO UPDATE SET password = EXCLUDED.password`
	deleteUserRoles = `DELETE FROM oskari_role_oskari_user WHERE user_id = $1`
	insertUserRole  = `INSERT INTO oskari_role_oskari_user (role_id, user_id) VALUES ($1, $2)`
	deleteLogin     = `DELETE FROM oskari_jaas_users WHERE login = $1`
	deleteUser      = `DELETE FROM oskari_users WHERE id = $1`

	truncateUserRoles = `DELETE FROM oskari_role_oskari_user`
	truncateLogins    = `DELETE FROM oskari_jaas_users`
	truncateUsers     = `DELETE FROM oskari_users`
	truncateRoles     = `DELETE FROM oskari_roles WHERE name NOT IN ('Admin', 'User', 'Guest')`

	selectLogin     = `SELECT password FROM oskari_jaas_users WHERE login = $1`
	selectUserRoles = `SELECT r.name FROM oskari_roles r
JOIN oskari_role_oskari_user ru ON ru.role_id = r.id
JOIN oskari_users u ON u.id = ru.user_id
WHERE u.user_name = $1
ORDER BY r.name`
)

// IsProtectedRole reports whether a role ships with oskari and must never be removed
func IsProtectedRole(name string) bool {
	switch name {
	case oskari.RoleAdmin, oskari.RoleUser, oskari.RoleGuest:
		return true
	default:
		return false
	}
}

// rows still referenced from tables outside of this sync can't be removed;
// that is logged and the rest of the pruning continues
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}

type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// loads id by name for a two column id/name query
func loadNames(ctx context.Context, db querier, sql string) (map[string]int64, error) {
	rows, err := db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[string]int64{}
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		result[name] = id
	}
	return result, rows.Err()
}

// SyncRoles makes sure every organization has a role and removes roles of
// organizations that are gone. The organizations are returned with their role ids set
func (s *Store) SyncRoles(ctx context.Context, organizations []ckan.Organization) (synced []ckan.Organization, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, err := loadNames(ctx, tx, selectRoles)
	if err != nil {
		return nil, fmt.Errorf("loading roles: %w", err)
	}

	wanted := map[string]struct{}{}
	for _, organization := range organizations {
		wanted[organization.Name] = struct{}{}
		var id int64
		if err := tx.QueryRow(ctx, upsertRole, organization.Name).Scan(&id); err != nil {
			return nil, fmt.Errorf("storing role %s: %w", organization.Name, err)
		}
		organization.ID = &id
		synced = append(synced, organization)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	for _, name := range slices.Sorted(maps.Keys(existing)) {
		id := existing[name]
		if _, keep := wanted[name]; keep || IsProtectedRole(name) {
			continue
		}
		if _, err := s.db.Exec(ctx, deleteRole, id); err != nil {
			if isForeignKeyViolation(err) {
				log.Warnf("Role %s is still referenced and was not removed", name)
				continue
			}
			return synced, fmt.Errorf("removing role %s: %w", name, err)
		}
		log.Infof("Removed role %s of a deleted organization", name)
	}
	return synced, nil
}

// UserSyncResult counts what SyncUsers changed
type UserSyncResult struct {
	Created int
	Updated int
	Deleted int
}

// SyncUsers creates or updates every user, replaces their role links and
// deletes the oskari users that are no longer in ckan
func (s *Store) SyncUsers(ctx context.Context, users []ckan.User, organizations []ckan.Organization) (result UserSyncResult, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return result, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	roleIDs, err := loadNames(ctx, tx, selectRoles)
	if err != nil {
		return result, fmt.Errorf("loading roles: %w", err)
	}
	existing, err := loadNames(ctx, tx, selectUsers)
	if err != nil {
		return result, fmt.Errorf("loading users: %w", err)
	}

	wanted := map[string]struct{}{}
	for _, user := range users {
		if _, duplicate := wanted[user.ScreenName]; duplicate {
			log.Warnf("User %s appears more than once, keeping the first", user.ScreenName)
			continue
		}
		wanted[user.ScreenName] = struct{}{}

		userID, found := existing[user.ScreenName]
		if found {
			if _, err := tx.Exec(ctx, updateUser, userID, user.FirstName, user.LastName, user.Email); err != nil {
				return result, fmt.Errorf("updating user %s: %w", user.ScreenName, err)
			}
			result.Updated++
		} else {
			userUUID := user.UUID
			if userUUID == "" {
				userUUID = uuid.NewString()
			}
			if err := tx.QueryRow(ctx, insertUser, user.ScreenName, user.FirstName, user.LastName, user.Email, userUUID).Scan(&userID); err != nil {
				return result, fmt.Errorf("creating user %s: %w", user.ScreenName, err)
			}
			result.Created++
		}

		if user.PasswordHash != "" {
			stored, err := password.ForStorage(user.PasswordHash)
			if err != nil {
				return result, err
			}
			if _, err := tx.Exec(ctx, upsertLogin, user.ScreenName, stored); err != nil {
				return result, fmt.Errorf("storing password of %s: %w", user.ScreenName, err)
			}
		} else {
			log.Debugf("User %s has no password hash, login is unchanged", user.ScreenName)
		}

		if err := linkRoles(ctx, tx, userID, user, organizations, roleIDs); err != nil {
			return result, fmt.Errorf("linking roles of %s: %w", user.ScreenName, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return result, err
	}

	for _, name := range slices.Sorted(maps.Keys(existing)) {
		id := existing[name]
		if _, keep := wanted[name]; keep {
			continue
		}
		if err := s.deleteUser(ctx, name, id); err != nil {
			if isForeignKeyViolation(err) {
				log.Warnf("User %s is still referenced and was not removed", name)
				continue
			}
			return result, err
		}
		log.Infof("Removed user %s who is no longer in ckan", name)
		result.Deleted++
	}
	return result, nil
}

// the base role depends on the sysadmin flag, organization roles on membership
func linkRoles(ctx context.Context, tx pgx.Tx, userID int64, user ckan.User, organizations []ckan.Organization, roleIDs map[string]int64) error {
	if _, err := tx.Exec(ctx, deleteUserRoles, userID); err != nil {
		return err
	}
	roles := []string{oskari.RoleUser}
	if user.Sysadmin {
		roles = []string{oskari.RoleAdmin}
	}
	for _, organization := range organizations {
		if organization.HasMember(user.ScreenName) {
			roles = append(roles, organization.Name)
		}
	}
	for _, role := range roles {
		roleID, ok := roleIDs[role]
		if !ok {
			log.Warnf("Role %s does not exist, not linking it to %s", role, user.ScreenName)
			continue
		}
		if _, err := tx.Exec(ctx, insertUserRole, roleID, userID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteUser(ctx context.Context, name string, id int64) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if _, err = tx.Exec(ctx, deleteLogin, name); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, deleteUser, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Truncate removes every user, login and non protected role
func (s *Store) Truncate(ctx context.Context) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	for _, statement := range []string{truncateUserRoles, truncateLogins, truncateUsers, truncateRoles} {
		if _, err = tx.Exec(ctx, statement); err != nil {
			return fmt.Errorf("truncating accounts: %w", err)
		}
	}
	log.Info("Removed all users and organization roles")
	return tx.Commit(ctx)
}

// Principal is an authenticated oskari user
type Principal struct {
	Name  string
	Roles []string
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authenticate checks the password against the stored hash whatever scheme made it
func (s *Store) Authenticate(ctx context.Context, user, pass string) (Principal, error) {
	var stored string
	err := s.db.QueryRow(ctx, selectLogin, user).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return Principal{}, err
	}

	ok, err := password.Verify(pass, stored)
	if errors.Is(err, password.ErrUnknownScheme) {
		log.Errorf("Unknown password hash format for user %s", user)
		return Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return Principal{}, err
	}
	if !ok {
		return Principal{}, ErrInvalidCredentials
	}

	rows, err := s.db.Query(ctx, selectUserRoles, user)
	if err != nil {
		return Principal{}, err
	}
	defer rows.Close()
	principal := Principal{Name: user}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return Principal{}, err
		}
		principal.Roles = append(principal.Roles, role)
	}
	return principal, rows.Err()
}
