package members

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/luqma-backoffice/backend/internal/claims"
	"github.com/luqma-backoffice/backend/internal/identity"
	"github.com/luqma-backoffice/backend/internal/metrics"
	"github.com/luqma-backoffice/backend/internal/models"
	"github.com/luqma-backoffice/backend/pkg/apperr"
	"github.com/luqma-backoffice/backend/pkg/utils"
)

const (
	minNameLength       = 2
	maxNameLength       = 50
	generatedSecretSize = 12
)

var (
	ErrAdminRequired      = apperr.New(apperr.PermissionDenied, "admin_required", "only admins can manage members")
	ErrBusinessNotAllowed = apperr.New(apperr.PermissionDenied, "business_not_allowed", "no access to this business")
	ErrNoValidRole        = apperr.New(apperr.PermissionDenied, "no_valid_role", "no valid role")
	ErrContactRequired    = apperr.New(apperr.InvalidArgument, "contact_required", "email or phone is required")
	ErrInvalidRole        = apperr.New(apperr.InvalidArgument, "invalid_role", "role must be admin or driver")
	ErrInvalidIDs         = apperr.New(apperr.InvalidArgument, "invalid_ids", "business id and member id are required")
	ErrSecretTooShort     = apperr.New(apperr.InvalidArgument, "secret_too_short", "secret must be at least 6 characters")
	ErrNotADriver         = apperr.New(apperr.InvalidArgument, "not_a_driver", "member is not a driver")
	ErrNameRequired       = apperr.New(apperr.InvalidArgument, "name_required", "name is required")
	ErrNameTooShort       = apperr.New(apperr.InvalidArgument, "name_too_short", "name is too short")
	ErrNameTooLong        = apperr.New(apperr.InvalidArgument, "name_too_long", "name is too long")
)

// Caller is the authenticated principal making a request, with the claim set of its token.
type Caller struct {
	UID    string
	Claims claims.Set
}

// SessionRevoker invalidates a principal's existing sessions.
type SessionRevoker interface {
	Revoke(ctx context.Context, uid string) error
}

// RepairQueue schedules a full claims recompute for one principal.
type RepairQueue interface {
	EnqueueClaimsResync(ctx context.Context, uid, reason string) error
}

// InviteRequest is the input of Invite. Secret, when set, becomes the principal's credential.
type InviteRequest struct {
	BusinessID  string
	Role        models.Role
	Email       string
	Phone       string
	DisplayName string
	Secret      string
}

// InviteResult reports the invited principal.
type InviteResult struct {
	UID            string `json:"uid"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	IsNewPrincipal bool   `json:"isNewPrincipal"`
}

// ResetResult carries the generated secret when the caller did not supply one.
type ResetResult struct {
	GeneratedSecret string `json:"generatedSecret,omitempty"`
}

// Service runs the membership lifecycle: invite, remove, credential reset and self-service edits.
//
// Every flow writes the membership record before touching claims, so a claim never grants access
// that no record backs. The two stores share no transaction; when the claim step fails after the
// record committed, a resync is queued and the error is still returned to the caller.
type Service struct {
	store     Store
	authority identity.Authority
	sync      *claims.Synchronizer
	sessions  SessionRevoker
	repairs   RepairQueue
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a membership service. repairs may be nil.
func NewService(store Store, authority identity.Authority, sync *claims.Synchronizer, sessions SessionRevoker, repairs RepairQueue, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		authority: authority,
		sync:      sync,
		sessions:  sessions,
		repairs:   repairs,
		logger:    logger,
		now:       time.Now,
	}
}

// Invite adds or updates the principal's membership in req.BusinessID and grants the matching claims.
// Repeating an invite is safe and doubles as a profile edit.
func (s *Service) Invite(ctx context.Context, caller Caller, req InviteRequest) (result *InviteResult, err error) {
	defer func() { observe("invite", err) }()

	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := authorizeAdmin(caller, req.BusinessID); err != nil {
		return nil, err
	}
	if req.Email == "" && req.Phone == "" {
		return nil, ErrContactRequired
	}
	if !req.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if req.Secret != "" && len(req.Secret) < utils.MinSecretLength {
		return nil, ErrSecretTooShort
	}
	log := s.logger.With(zap.String("business_id", req.BusinessID), zap.String("role", string(req.Role)))

	p, isNew, err := s.resolvePrincipal(ctx, req)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("uid", p.UID))

	current, err := s.store.Get(ctx, req.BusinessID, p.UID)
	if err != nil && !errors.Is(err, ErrMembershipNotFound) {
		return nil, apperr.Internalf(err, "load membership")
	}
	now := s.now().UTC()
	rec := models.Membership{}
	if current != nil {
		rec = *current
	} else {
		rec.InvitedBy = caller.UID
		rec.InvitedAt = now
		rec.CreatedAt = now
	}
	roleChanged := current != nil && current.Active() && current.Role != req.Role
	rec.BusinessID = req.BusinessID
	rec.UID = p.UID
	rec.Role = req.Role
	rec.Status = models.MembershipActive
	rec.Email = firstNonEmpty(p.Email, req.Email)
	rec.Phone = firstNonEmpty(p.Phone, req.Phone)
	rec.DisplayName = firstNonEmpty(req.DisplayName, rec.DisplayName, p.DisplayName)
	rec.UpdatedAt = now
	if err := s.store.Save(ctx, &rec); err != nil {
		return nil, apperr.Internalf(err, "save membership")
	}

	if roleChanged {
		// A merge would keep the old role; rebuild from every record instead and drop stale sessions.
		if err := s.resync(ctx, p.UID); err != nil {
			return nil, s.claimStepFailed(ctx, log, p.UID, "invite role change", err)
		}
		if err := s.sessions.Revoke(ctx, p.UID); err != nil {
			return nil, apperr.Internalf(err, "revoke sessions")
		}
	} else if _, err := s.sync.GrantMembership(ctx, p.UID, req.BusinessID, req.Role); err != nil {
		return nil, s.claimStepFailed(ctx, log, p.UID, "invite", err)
	}

	log.Info("member invited", zap.Bool("new_principal", isNew), zap.Bool("role_changed", roleChanged))
	return &InviteResult{UID: p.UID, Email: rec.Email, Phone: rec.Phone, IsNewPrincipal: isNew}, nil
}

// resolvePrincipal finds the invited principal by email, then phone, then by the uid of an orphaned
// record with the same email and role, and creates it when none exists. A principal recreated under
// an orphaned record's uid is not reported as new.
func (s *Service) resolvePrincipal(ctx context.Context, req InviteRequest) (*models.Principal, bool, error) {
	var orphan *models.Membership
	if req.Email != "" {
		m, err := s.store.FindByEmail(ctx, req.BusinessID, req.Email, req.Role)
		switch {
		case err == nil:
			orphan = m
		case !errors.Is(err, ErrMembershipNotFound):
			return nil, false, apperr.Internalf(err, "find membership by email")
		}
	}

	lookups := []func() (*models.Principal, error){}
	if req.Email != "" {
		lookups = append(lookups, func() (*models.Principal, error) { return s.authority.GetPrincipalByEmail(ctx, req.Email) })
	}
	if req.Phone != "" {
		lookups = append(lookups, func() (*models.Principal, error) { return s.authority.GetPrincipalByPhone(ctx, req.Phone) })
	}
	if orphan != nil {
		lookups = append(lookups, func() (*models.Principal, error) { return s.authority.GetPrincipal(ctx, orphan.UID) })
	}
	for _, lookup := range lookups {
		p, err := lookup()
		if err == nil {
			return s.refreshPrincipal(ctx, p, req)
		}
		if !errors.Is(err, identity.ErrPrincipalNotFound) {
			return nil, false, apperr.Internalf(err, "look up principal")
		}
	}

	params := identity.CreatePrincipalParams{
		Email:       req.Email,
		Phone:       req.Phone,
		DisplayName: firstNonEmpty(req.DisplayName, req.Email, req.Phone),
		Secret:      req.Secret,
	}
	if orphan != nil {
		params.UID = orphan.UID
	}
	if req.Email != "" && params.Secret == "" {
		secret, err := utils.GenerateSecret(generatedSecretSize)
		if err != nil {
			return nil, false, apperr.Internalf(err, "generate secret")
		}
		params.Secret = secret
	}
	p, err := s.authority.CreatePrincipal(ctx, params)
	if err != nil {
		return nil, false, apperr.Internalf(err, "create principal")
	}
	return p, orphan == nil, nil
}

// refreshPrincipal applies a supplied display name or secret to an existing principal.
func (s *Service) refreshPrincipal(ctx context.Context, p *models.Principal, req InviteRequest) (*models.Principal, bool, error) {
	var params identity.UpdatePrincipalParams
	if req.DisplayName != "" && req.DisplayName != p.DisplayName {
		params.DisplayName = &req.DisplayName
	}
	if req.Secret != "" {
		params.Secret = &req.Secret
	}
	if params.DisplayName == nil && params.Secret == nil {
		return p, false, nil
	}
	updated, err := s.authority.UpdatePrincipal(ctx, p.UID, params)
	if err != nil {
		return nil, false, apperr.Internalf(err, "update principal")
	}
	return updated, false, nil
}

// Remove ends uid's membership in businessID, strips the business from its claims and revokes its
// sessions. With purge the principal itself is deleted. Removing an absent or removed member succeeds.
func (s *Service) Remove(ctx context.Context, caller Caller, businessID, uid string, purge bool) (err error) {
	defer func() { observe("remove", err) }()

	businessID, uid = strings.TrimSpace(businessID), strings.TrimSpace(uid)
	if businessID == "" || uid == "" {
		return ErrInvalidIDs
	}
	if err := authorizeAdmin(caller, businessID); err != nil {
		return err
	}
	log := s.logger.With(zap.String("business_id", businessID), zap.String("uid", uid))

	if err := s.store.MarkRemoved(ctx, businessID, uid); err != nil && !errors.Is(err, ErrMembershipNotFound) {
		return apperr.Internalf(err, "mark membership removed")
	}

	principalGone := false
	if _, err := s.sync.RevokeMembership(ctx, uid, businessID); err != nil {
		if !errors.Is(err, identity.ErrPrincipalNotFound) {
			return s.claimStepFailed(ctx, log, uid, "remove", err)
		}
		principalGone = true
	}
	if !principalGone {
		if err := s.sessions.Revoke(ctx, uid); err != nil && !errors.Is(err, identity.ErrPrincipalNotFound) {
			return apperr.Internalf(err, "revoke sessions")
		}
	}

	if purge {
		if err := s.authority.DeletePrincipal(ctx, uid); err != nil && !errors.Is(err, identity.ErrPrincipalNotFound) {
			return apperr.Internalf(err, "purge principal")
		}
	}
	log.Info("member removed", zap.Bool("purge", purge), zap.Bool("principal_absent", principalGone))
	return nil
}

// ResetCredential rotates the secret of an active driver in businessID and revokes its sessions.
// When newSecret is empty a secret is generated and returned.
func (s *Service) ResetCredential(ctx context.Context, caller Caller, businessID, uid, newSecret string) (result *ResetResult, err error) {
	defer func() { observe("reset_credential", err) }()

	businessID, uid = strings.TrimSpace(businessID), strings.TrimSpace(uid)
	if businessID == "" || uid == "" {
		return nil, ErrInvalidIDs
	}
	if err := authorizeAdmin(caller, businessID); err != nil {
		return nil, err
	}
	if newSecret != "" && len(newSecret) < utils.MinSecretLength {
		return nil, ErrSecretTooShort
	}

	rec, err := s.store.Get(ctx, businessID, uid)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return nil, ErrMembershipNotFound
		}
		return nil, apperr.Internalf(err, "load membership")
	}
	if !rec.Active() {
		return nil, ErrMembershipNotFound
	}
	if rec.Role != models.RoleDriver {
		return nil, ErrNotADriver
	}

	result = &ResetResult{}
	secret := newSecret
	if secret == "" {
		if secret, err = utils.GenerateSecret(generatedSecretSize); err != nil {
			return nil, apperr.Internalf(err, "generate secret")
		}
		result.GeneratedSecret = secret
	}
	if _, err := s.authority.UpdatePrincipal(ctx, uid, identity.UpdatePrincipalParams{Secret: &secret}); err != nil {
		if errors.Is(err, identity.ErrPrincipalNotFound) {
			return nil, identity.ErrPrincipalNotFound
		}
		return nil, apperr.Internalf(err, "update secret")
	}
	if err := s.sessions.Revoke(ctx, uid); err != nil {
		return nil, apperr.Internalf(err, "revoke sessions")
	}
	s.logger.Info("credential reset", zap.String("business_id", businessID), zap.String("uid", uid),
		zap.Bool("generated", result.GeneratedSecret != ""))
	return result, nil
}

// UpdateOwnProfile changes the caller's own display name in businessID. Roles and businesses
// are never touched.
func (s *Service) UpdateOwnProfile(ctx context.Context, caller Caller, businessID, displayName string) (err error) {
	defer func() { observe("update_own_profile", err) }()

	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return ErrInvalidIDs
	}
	if !caller.Claims.HasBusiness(businessID) {
		return ErrBusinessNotAllowed
	}
	if !caller.Claims.HasRole(models.RoleAdmin) && !caller.Claims.HasRole(models.RoleDriver) {
		return ErrNoValidRole
	}
	name, err := validateName(displayName)
	if err != nil {
		return err
	}

	rec, err := s.store.Get(ctx, businessID, caller.UID)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return ErrMembershipNotFound
		}
		return apperr.Internalf(err, "load membership")
	}
	if !rec.Active() {
		return ErrMembershipNotFound
	}
	if err := s.store.UpdateDisplayName(ctx, businessID, caller.UID, name); err != nil {
		return apperr.Internalf(err, "update display name")
	}
	if _, err := s.authority.UpdatePrincipal(ctx, caller.UID, identity.UpdatePrincipalParams{DisplayName: &name}); err != nil {
		s.logger.Warn("principal display name not updated", zap.String("uid", caller.UID), zap.Error(err))
	}
	return nil
}

// List returns every record of businessID, removed ones included.
func (s *Service) List(ctx context.Context, caller Caller, businessID string) ([]models.Membership, error) {
	if err := authorizeAdmin(caller, businessID); err != nil {
		return nil, err
	}
	list, err := s.store.ListByBusiness(ctx, businessID)
	if err != nil {
		return nil, apperr.Internalf(err, "list memberships")
	}
	return list, nil
}

// resync overwrites uid's claims with the set computed from all of its records.
func (s *Service) resync(ctx context.Context, uid string) error {
	records, err := s.store.ListByUID(ctx, uid)
	if err != nil {
		return fmt.Errorf("list memberships of %s: %w", uid, err)
	}
	_, err = s.sync.Overwrite(ctx, uid, claims.Compute(records))
	return err
}

// claimStepFailed queues a repair for uid and returns the error to surface. Conflicts keep their kind.
func (s *Service) claimStepFailed(ctx context.Context, log *zap.Logger, uid, reason string, cause error) error {
	log.Error("claims step failed after record write", zap.String("step", reason), zap.Error(cause))
	if s.repairs != nil {
		if err := s.repairs.EnqueueClaimsResync(ctx, uid, reason); err != nil {
			log.Error("enqueue claims resync failed", zap.Error(err))
		}
	}
	if apperr.KindOf(cause) == apperr.Conflict {
		return cause
	}
	return apperr.Internalf(cause, "update claims")
}

func authorizeAdmin(caller Caller, businessID string) error {
	if !caller.Claims.HasRole(models.RoleAdmin) {
		return ErrAdminRequired
	}
	if businessID == "" || !caller.Claims.HasBusiness(businessID) {
		return ErrBusinessNotAllowed
	}
	return nil
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(name)
	switch {
	case n == 0:
		return "", ErrNameRequired
	case n < minNameLength:
		return "", ErrNameTooShort
	case n > maxNameLength:
		return "", ErrNameTooLong
	}
	return name, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = apperr.KindOf(err).String()
	}
	metrics.LifecycleOp(op, result)
}
