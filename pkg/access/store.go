package access

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// querier is the slice of *sql.DB / *sql.Tx the stores use, so the same
// store code serves both the plain connection and an in-flight transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLStores implements the three fact stores over database/sql. The schema's
// partial unique indexes enforce one active grant per type, so concurrent
// grants race safely: the loser gets a unique violation, surfaced as
// Conflict.
type SQLStores struct {
	db *sql.DB
	q  querier
}

// NewSQLStores creates SQL-backed fact stores.
func NewSQLStores(db *sql.DB) *SQLStores {
	return &SQLStores{db: db, q: db}
}

// WithTx returns a view of the stores bound to the transaction. Reads and
// writes through the returned value join the transaction.
func (s *SQLStores) WithTx(tx *sql.Tx) *SQLStores {
	return &SQLStores{db: s.db, q: tx}
}

// BeginTx opens a transaction on the underlying connection.
func (s *SQLStores) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// InTx runs fn inside a database transaction. When the receiver is already
// transaction-bound, fn joins the open transaction.
func (s *SQLStores) InTx(ctx context.Context, fn func(Stores) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(s.WithTx(tx)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation recognizes unique-index violations from both postgres
// and sqlite.
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetMembership returns the active membership for (user, territory), or nil.
func (s *SQLStores) GetMembership(ctx context.Context, userID, territoryID string) (*TerritoryMembership, error) {
	query := `
		SELECT id, user_id, territory_id, role, verification, verified_at,
		       granted_at, granted_by, grant_reason, revoked_at, revoked_by
		FROM territory_memberships
		WHERE user_id = $1 AND territory_id = $2 AND revoked_at IS NULL
	`
	m, err := scanMembership(s.q.QueryRowContext(ctx, query, userID, territoryID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// GetMembershipByID returns the membership with the given id, or nil.
func (s *SQLStores) GetMembershipByID(ctx context.Context, membershipID string) (*TerritoryMembership, error) {
	query := `
		SELECT id, user_id, territory_id, role, verification, verified_at,
		       granted_at, granted_by, grant_reason, revoked_at, revoked_by
		FROM territory_memberships
		WHERE id = $1
	`
	m, err := scanMembership(s.q.QueryRowContext(ctx, query, membershipID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// AddMembership inserts a new membership row.
func (s *SQLStores) AddMembership(ctx context.Context, m *TerritoryMembership) error {
	query := `
		INSERT INTO territory_memberships
			(id, user_id, territory_id, role, verification, verified_at,
			 granted_at, granted_by, grant_reason, revoked_at, revoked_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.q.ExecContext(ctx, query,
		m.ID,
		m.UserID,
		m.TerritoryID,
		string(m.Role),
		string(m.Verification),
		nullTime(m.VerifiedAt),
		m.GrantedAt,
		m.GrantedBy,
		m.GrantReason,
		nullTime(m.RevokedAt),
		nullString(m.RevokedBy),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ConflictError("membership already exists for this territory")
		}
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

// UpdateMembership rewrites the mutable columns of a membership row. The
// write only matches unrevoked rows, so two racing revokes resolve in the
// database: the loser matches nothing and gets Conflict.
func (s *SQLStores) UpdateMembership(ctx context.Context, m *TerritoryMembership) error {
	query := `
		UPDATE territory_memberships
		SET role = $1, verification = $2, verified_at = $3,
		    revoked_at = $4, revoked_by = $5
		WHERE id = $6 AND revoked_at IS NULL
	`
	result, err := s.q.ExecContext(ctx, query,
		string(m.Role),
		string(m.Verification),
		nullTime(m.VerifiedAt),
		nullTime(m.RevokedAt),
		nullString(m.RevokedBy),
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}
	if rows == 0 {
		existing, err := s.GetMembershipByID(ctx, m.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return NotFoundError("membership not found")
		}
		return ConflictError("membership already revoked")
	}
	return nil
}

// GetActiveCapabilities returns the active capability grants on a membership.
func (s *SQLStores) GetActiveCapabilities(ctx context.Context, membershipID string) ([]MembershipCapability, error) {
	query := `
		SELECT id, membership_id, type, granted_by_membership,
		       granted_at, granted_by, grant_reason, revoked_at, revoked_by
		FROM membership_capabilities
		WHERE membership_id = $1 AND revoked_at IS NULL
	`
	rows, err := s.q.QueryContext(ctx, query, membershipID)
	if err != nil {
		return nil, fmt.Errorf("failed to list capabilities: %w", err)
	}
	defer rows.Close()

	var grants []MembershipCapability
	for rows.Next() {
		c, err := scanCapability(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan capability: %w", err)
		}
		grants = append(grants, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list capabilities: %w", err)
	}
	return grants, nil
}

// GetCapabilityByID returns the capability grant with the given id, or nil.
func (s *SQLStores) GetCapabilityByID(ctx context.Context, grantID string) (*MembershipCapability, error) {
	query := `
		SELECT id, membership_id, type, granted_by_membership,
		       granted_at, granted_by, grant_reason, revoked_at, revoked_by
		FROM membership_capabilities
		WHERE id = $1
	`
	c, err := scanCapability(s.q.QueryRowContext(ctx, query, grantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get capability: %w", err)
	}
	return c, nil
}

// AddCapability inserts a new grant row. The partial unique index on
// (membership_id, type) for unrevoked rows turns a duplicate active grant
// into a Conflict.
func (s *SQLStores) AddCapability(ctx context.Context, c *MembershipCapability) error {
	query := `
		INSERT INTO membership_capabilities
			(id, membership_id, type, granted_by_membership,
			 granted_at, granted_by, grant_reason, revoked_at, revoked_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.q.ExecContext(ctx, query,
		c.ID,
		c.MembershipID,
		string(c.Type),
		c.GrantedByMembership,
		c.GrantedAt,
		c.GrantedBy,
		c.GrantReason,
		nullTime(c.RevokedAt),
		nullString(c.RevokedBy),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ConflictError("already has this active capability")
		}
		return fmt.Errorf("failed to add capability: %w", err)
	}
	return nil
}

// UpdateCapability rewrites the revocation columns of a grant row. Only an
// unrevoked row matches, so of two racing revokes exactly one lands; the
// other reads the row back to tell Conflict from NotFound.
func (s *SQLStores) UpdateCapability(ctx context.Context, c *MembershipCapability) error {
	query := `
		UPDATE membership_capabilities
		SET revoked_at = $1, revoked_by = $2
		WHERE id = $3 AND revoked_at IS NULL
	`
	result, err := s.q.ExecContext(ctx, query,
		nullTime(c.RevokedAt),
		nullString(c.RevokedBy),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update capability: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update capability: %w", err)
	}
	if rows == 0 {
		existing, err := s.GetCapabilityByID(ctx, c.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return NotFoundError("capability grant not found")
		}
		return ConflictError("capability grant already revoked")
	}
	return nil
}

// GetActiveSystemPermission returns the user's active grant of the given
// type, or nil.
func (s *SQLStores) GetActiveSystemPermission(ctx context.Context, userID string, permission PermissionType) (*SystemPermission, error) {
	query := `
		SELECT id, user_id, type,
		       granted_at, granted_by, grant_reason, revoked_at, revoked_by
		FROM system_permissions
		WHERE user_id = $1 AND type = $2 AND revoked_at IS NULL
	`
	p, err := scanPermission(s.q.QueryRowContext(ctx, query, userID, string(permission)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get system permission: %w", err)
	}
	return p, nil
}

// GetPermissionByID returns the permission grant with the given id, or nil.
func (s *SQLStores) GetPermissionByID(ctx context.Context, grantID string) (*SystemPermission, error) {
	query := `
		SELECT id, user_id, type,
		       granted_at, granted_by, grant_reason, revoked_at, revoked_by
		FROM system_permissions
		WHERE id = $1
	`
	p, err := scanPermission(s.q.QueryRowContext(ctx, query, grantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get system permission: %w", err)
	}
	return p, nil
}

// AddPermission inserts a new grant row, with the same Conflict translation
// as capabilities.
func (s *SQLStores) AddPermission(ctx context.Context, p *SystemPermission) error {
	query := `
		INSERT INTO system_permissions
			(id, user_id, type,
			 granted_at, granted_by, grant_reason, revoked_at, revoked_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.q.ExecContext(ctx, query,
		p.ID,
		p.UserID,
		string(p.Type),
		p.GrantedAt,
		p.GrantedBy,
		p.GrantReason,
		nullTime(p.RevokedAt),
		nullString(p.RevokedBy),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ConflictError("already has this active permission")
		}
		return fmt.Errorf("failed to add system permission: %w", err)
	}
	return nil
}

// UpdatePermission rewrites the revocation columns of a grant row, with the
// same unrevoked-rows-only guard as capabilities.
func (s *SQLStores) UpdatePermission(ctx context.Context, p *SystemPermission) error {
	query := `
		UPDATE system_permissions
		SET revoked_at = $1, revoked_by = $2
		WHERE id = $3 AND revoked_at IS NULL
	`
	result, err := s.q.ExecContext(ctx, query,
		nullTime(p.RevokedAt),
		nullString(p.RevokedBy),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update system permission: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update system permission: %w", err)
	}
	if rows == 0 {
		existing, err := s.GetPermissionByID(ctx, p.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return NotFoundError("permission grant not found")
		}
		return ConflictError("permission grant already revoked")
	}
	return nil
}

// rowScanner lets the scan helpers serve both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMembership(row rowScanner) (*TerritoryMembership, error) {
	var m TerritoryMembership
	var role, verification string
	var verifiedAt, revokedAt sql.NullTime
	var revokedBy sql.NullString

	err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.TerritoryID,
		&role,
		&verification,
		&verifiedAt,
		&m.GrantedAt,
		&m.GrantedBy,
		&m.GrantReason,
		&revokedAt,
		&revokedBy,
	)
	if err != nil {
		return nil, err
	}
	m.Role = Role(role)
	m.Verification = ResidencyVerification(verification)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		m.VerifiedAt = &t
	}
	applyRevocation(&m.RevocableGrant, revokedAt, revokedBy)
	return &m, nil
}

func scanCapability(row rowScanner) (*MembershipCapability, error) {
	var c MembershipCapability
	var capabilityType string
	var revokedAt sql.NullTime
	var revokedBy sql.NullString

	err := row.Scan(
		&c.ID,
		&c.MembershipID,
		&capabilityType,
		&c.GrantedByMembership,
		&c.GrantedAt,
		&c.GrantedBy,
		&c.GrantReason,
		&revokedAt,
		&revokedBy,
	)
	if err != nil {
		return nil, err
	}
	c.Type = CapabilityType(capabilityType)
	applyRevocation(&c.RevocableGrant, revokedAt, revokedBy)
	return &c, nil
}

func scanPermission(row rowScanner) (*SystemPermission, error) {
	var p SystemPermission
	var permissionType string
	var revokedAt sql.NullTime
	var revokedBy sql.NullString

	err := row.Scan(
		&p.ID,
		&p.UserID,
		&permissionType,
		&p.GrantedAt,
		&p.GrantedBy,
		&p.GrantReason,
		&revokedAt,
		&revokedBy,
	)
	if err != nil {
		return nil, err
	}
	p.Type = PermissionType(permissionType)
	applyRevocation(&p.RevocableGrant, revokedAt, revokedBy)
	return &p, nil
}

func applyRevocation(g *RevocableGrant, revokedAt sql.NullTime, revokedBy sql.NullString) {
	if revokedAt.Valid {
		t := revokedAt.Time
		g.RevokedAt = &t
	}
	if revokedBy.Valid {
		g.RevokedBy = revokedBy.String
	}
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
