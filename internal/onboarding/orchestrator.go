// Package onboarding decides whether a signed-in user joins an existing company by email domain
// or is left to create one, and keeps user and membership records consistent while doing so.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/internal/domains"
	"github.com/aura-helpdesk/backend/internal/enrichment"
	"github.com/aura-helpdesk/backend/internal/idgen"
	"github.com/aura-helpdesk/backend/internal/metrics"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/pkg/database"
)

// State is a user's position relative to company affiliation.
type State string

const (
	StateUnaffiliated        State = "unaffiliated"
	StateAutoJoined          State = "auto_joined"
	StateAwaitingManualSetup State = "awaiting_manual_setup"
	StateOwnerOfNewCompany   State = "owner_of_new_company"
	// StateAffiliated is reported for users who already had a company before this event.
	StateAffiliated State = "affiliated"
)

// maxCreateAttempts bounds company creation retries after an id collision.
const maxCreateAttempts = 3

var (
	// ErrInvalidProfile means the identity profile lacks an external id or email.
	ErrInvalidProfile = errors.New("identity profile requires an external id and an email")
	// ErrInvalidEmail means no domain could be extracted.
	ErrInvalidEmail = errors.New("invalid email format")
	// ErrCompanyNameRequired is returned when a company is created without a name.
	ErrCompanyNameRequired = errors.New("company name is required")
	// ErrAffiliation marks a store failure after the user profile was already saved.
	ErrAffiliation = errors.New("affiliation failed")
)

// CompanyStore is the company directory the orchestrator needs.
type CompanyStore interface {
	FindByID(ctx context.Context, companyID string) (*models.Company, error)
	FindByDomain(ctx context.Context, domain string) (*models.Company, error)
	Exists(ctx context.Context, companyID string) (bool, error)
	Create(ctx context.Context, c *models.Company, owner models.CompanyMember) error
	AddMember(ctx context.Context, companyID string, m models.CompanyMember) (bool, error)
	UpdateProfileFields(ctx context.Context, companyID string, p models.CompanyProfile) (*models.Company, error)
}

// UserStore is the user directory the orchestrator needs.
type UserStore interface {
	UpsertFromIdentity(ctx context.Context, p models.IdentityProfile) (*models.User, bool, error)
	AttachToCompany(ctx context.Context, userID uuid.UUID, c *models.Company) (*models.User, error)
	RefreshCompanyCache(ctx context.Context, c *models.Company) error
}

// MXChecker verifies a domain can receive mail. It never fails; inconclusive means false.
type MXChecker interface {
	HasMailExchanger(ctx context.Context, domain string) bool
}

// Enricher fills in public company details.
type Enricher interface {
	Enrich(ctx context.Context, companyName, domain string) (*enrichment.Company, error)
}

// Result is the outcome of a sync or affiliation run.
type Result struct {
	User        *models.User    `json:"user"`
	Company     *models.Company `json:"company,omitempty"`
	State       State           `json:"state"`
	UserCreated bool            `json:"userCreated"`
	Domain      string          `json:"domain,omitempty"`
	MXValid     bool            `json:"mxValid"`
	// Merged is set when company creation joined a company that already claimed the domain.
	Merged bool `json:"merged,omitempty"`
}

// CompanyID returns the affiliated company id, or nil.
func (r *Result) CompanyID() *string {
	if r == nil || r.User == nil {
		return nil
	}
	return r.User.CompanyID
}

// DomainCheck is the read-only diagnostic for an email.
type DomainCheck struct {
	Email               string          `json:"email"`
	Domain              string          `json:"domain"`
	MXValid             bool            `json:"mxValid"`
	ExistingCompany     *CompanySummary `json:"existingCompany"`
	ShouldAutoAssociate bool            `json:"shouldAutoAssociate"`
}

// CompanySummary is the public part of a company shown to unauthenticated callers.
type CompanySummary struct {
	CompanyID   string `json:"companyId"`
	CompanyName string `json:"companyName"`
}

// Options configures an Orchestrator.
type Options struct {
	// RequireVerifiedEmail keeps users with unverified emails out of domain auto-join and domain claims.
	RequireVerifiedEmail bool
	Enricher             Enricher
	Metrics              *metrics.Metrics
	IDs                  *idgen.Generator
}

// Orchestrator runs the affiliation workflow.
type Orchestrator struct {
	companies       CompanyStore
	users           UserStore
	mx              MXChecker
	ids             *idgen.Generator
	enricher        Enricher
	metrics         *metrics.Metrics
	requireVerified bool
	now             func() time.Time
	logger          *zap.Logger
}

// New creates an Orchestrator. Company ids come from opts.IDs or a COMP generator over companies.Exists.
func New(companies CompanyStore, users UserStore, mx MXChecker, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := opts.IDs
	if ids == nil {
		ids = idgen.New(idgen.PrefixCompany, idgen.CheckerFunc(companies.Exists))
	}
	return &Orchestrator{
		companies:       companies,
		users:           users,
		mx:              mx,
		ids:             ids,
		enricher:        opts.Enricher,
		metrics:         opts.Metrics,
		requireVerified: opts.RequireVerifiedEmail,
		now:             time.Now,
		logger:          logger,
	}
}

// Sync saves the identity profile and then runs Affiliate.
// When the profile was saved but affiliation failed, both the result and an ErrAffiliation error are returned.
func (o *Orchestrator) Sync(ctx context.Context, p models.IdentityProfile) (*Result, error) {
	p.ExternalID = strings.TrimSpace(p.ExternalID)
	p.Email = domains.NormalizeEmail(p.Email)
	if p.ExternalID == "" || p.Email == "" {
		return nil, ErrInvalidProfile
	}
	user, created, err := o.users.UpsertFromIdentity(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("sync user: %w", err)
	}
	res, err := o.Affiliate(ctx, user)
	res.UserCreated = created
	return res, err
}

// Affiliate places user in a company when the email domain matches one. Safe to repeat for the same user.
func (o *Orchestrator) Affiliate(ctx context.Context, user *models.User) (*Result, error) {
	res := &Result{User: user, State: StateUnaffiliated}

	if user.HasCompany() {
		company, err := o.companies.FindByID(ctx, user.CompanyIDValue())
		if err != nil {
			return res, o.affiliationErr(user, "load company", err)
		}
		if company != nil {
			if err := o.ensureMember(ctx, company, user, models.CompanyRoleMember); err != nil {
				return res, o.affiliationErr(user, "ensure membership", err)
			}
			res.Company = company
			return o.decide(res, StateAffiliated), nil
		}
		o.logger.Warn("user points at missing company", zap.String("user_id", user.ID.String()), zap.String("company_id", user.CompanyIDValue()))
	}

	domain, ok := domains.ExtractDomain(user.Email)
	if !ok {
		return o.decide(res, StateAwaitingManualSetup), nil
	}
	res.Domain = domain
	if o.requireVerified && !user.EmailVerified {
		o.logger.Info("email not verified, skipping domain match", zap.String("user_id", user.ID.String()), zap.String("domain", domain))
		return o.decide(res, StateAwaitingManualSetup), nil
	}

	res.MXValid = o.mx.HasMailExchanger(ctx, domain)
	if !res.MXValid {
		o.logger.Info("no mx for domain, matching on database only", zap.String("domain", domain))
	}

	company, err := o.companies.FindByDomain(ctx, domain)
	if err != nil {
		return res, o.affiliationErr(user, "find company by domain", err)
	}
	if company == nil {
		return o.decide(res, StateAwaitingManualSetup), nil
	}

	updated, err := o.join(ctx, user, company, models.CompanyRoleMember)
	if err != nil {
		return res, o.affiliationErr(user, "join company", err)
	}
	res.User = updated
	res.Company = company
	o.logger.Info("user auto-joined company", zap.String("user_id", user.ID.String()), zap.String("company_id", company.CompanyID), zap.String("domain", domain))
	return o.decide(res, StateAutoJoined), nil
}

// join attaches the user and then adds the membership. A failure between the two is healed by the next Affiliate run.
func (o *Orchestrator) join(ctx context.Context, user *models.User, company *models.Company, role string) (*models.User, error) {
	updated, err := o.users.AttachToCompany(ctx, user.ID, company)
	if err != nil {
		return nil, err
	}
	if err := o.ensureMember(ctx, company, updated, role); err != nil {
		return nil, err
	}
	return updated, nil
}

func (o *Orchestrator) ensureMember(ctx context.Context, company *models.Company, user *models.User, role string) error {
	m := models.CompanyMember{UserID: user.ID.String(), Email: user.Email, Role: role}
	inserted, err := o.companies.AddMember(ctx, company.CompanyID, m)
	if err != nil {
		return err
	}
	if inserted {
		m.AddedAt = o.now()
		company.Members = append(company.Members, m)
		o.logger.Debug("member added", zap.String("company_id", company.CompanyID), zap.String("email", user.Email))
	}
	return nil
}

func (o *Orchestrator) decide(res *Result, s State) *Result {
	res.State = s
	o.metrics.OnboardingDecision(string(s))
	return res
}

func (o *Orchestrator) affiliationErr(user *models.User, step string, err error) error {
	o.logger.Error("affiliation step failed", zap.String("user_id", user.ID.String()), zap.String("step", step), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", ErrAffiliation, step, err)
}

// Check reports what would happen to a user with email, without changing anything.
func (o *Orchestrator) Check(ctx context.Context, email string) (*DomainCheck, error) {
	domain, ok := domains.ExtractDomain(email)
	if !ok {
		return nil, ErrInvalidEmail
	}
	out := &DomainCheck{Email: strings.TrimSpace(email), Domain: domain}
	out.MXValid = o.mx.HasMailExchanger(ctx, domain)
	company, err := o.companies.FindByDomain(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("find company by domain: %w", err)
	}
	if company != nil {
		out.ExistingCompany = &CompanySummary{CompanyID: company.CompanyID, CompanyName: company.CompanyName}
		out.ShouldAutoAssociate = true
	}
	return out, nil
}

// Enrich proxies to the configured enricher.
func (o *Orchestrator) Enrich(ctx context.Context, companyName, domain string) (*enrichment.Company, error) {
	if o.enricher == nil {
		return nil, enrichment.ErrDisabled
	}
	return o.enricher.Enrich(ctx, companyName, domain)
}

// CreateCompany is the manual setup exit. A user who already has a company gets its profile updated instead.
// If another company already claims the user's domain, the user joins it and blank fields are filled from p.
func (o *Orchestrator) CreateCompany(ctx context.Context, user *models.User, p models.CompanyProfile) (*Result, error) {
	p = trimProfile(p)
	if p.CompanyName == "" {
		return nil, ErrCompanyNameRequired
	}
	res := &Result{User: user}

	if user.HasCompany() {
		existing, err := o.companies.FindByID(ctx, user.CompanyIDValue())
		if err != nil {
			return nil, fmt.Errorf("load company: %w", err)
		}
		if existing != nil {
			company, err := o.updateProfile(ctx, existing.CompanyID, p)
			if err != nil {
				return nil, err
			}
			if err := o.ensureMember(ctx, company, user, models.CompanyRoleMember); err != nil {
				return nil, fmt.Errorf("ensure membership: %w", err)
			}
			res.Company = company
			res.State = StateAffiliated
			if res.User, err = o.users.AttachToCompany(ctx, user.ID, company); err != nil {
				return nil, fmt.Errorf("refresh user company: %w", err)
			}
			return res, nil
		}
	}

	domain := o.claimableDomain(user)
	res.Domain = domain
	if domain != "" {
		if existing, err := o.companies.FindByDomain(ctx, domain); err != nil {
			return nil, fmt.Errorf("find company by domain: %w", err)
		} else if existing != nil {
			return o.mergeInto(ctx, res, user, existing, p)
		}
	}

	p = o.enrichBlanks(ctx, p, domain)
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := o.ids.Generate(ctx)
		if err != nil {
			return nil, fmt.Errorf("generate company id: %w", err)
		}
		company := &models.Company{
			CompanyID:      id,
			CompanyName:    p.CompanyName,
			Industry:       p.Industry,
			TotalEmployees: p.TotalEmployees,
			PhoneNumber:    p.PhoneNumber,
			Address:        p.Address,
			Website:        p.Website,
			Description:    p.Description,
			Domain:         domain,
			OwnerID:        user.ID.String(),
			OwnerEmail:     user.Email,
		}
		err = o.companies.Create(ctx, company, models.CompanyMember{UserID: user.ID.String(), Email: user.Email})
		if err == nil {
			if res.User, err = o.users.AttachToCompany(ctx, user.ID, company); err != nil {
				return nil, fmt.Errorf("attach owner: %w", err)
			}
			res.Company = company
			o.logger.Info("company created", zap.String("company_id", id), zap.String("owner_id", user.ID.String()), zap.String("domain", domain))
			return o.decide(res, StateOwnerOfNewCompany), nil
		}
		if !database.IsDuplicateKey(err) {
			return nil, fmt.Errorf("create company: %w", err)
		}
		// Lost a race: either the domain was claimed meanwhile or the id collided.
		constraint := database.ConstraintName(err)
		if domain != "" && constraint != database.CompanyPrimaryKey {
			existing, ferr := o.companies.FindByDomain(ctx, domain)
			if ferr != nil {
				return nil, fmt.Errorf("find company after duplicate key: %w", ferr)
			}
			if existing != nil {
				o.logger.Info("company domain claimed concurrently, merging",
					zap.String("domain", domain),
					zap.String("company_id", existing.CompanyID),
					zap.String("constraint", constraint),
				)
				return o.mergeInto(ctx, res, user, existing, p)
			}
		}
		o.logger.Warn("company id collided, retrying",
			zap.String("company_id", id),
			zap.String("constraint", constraint),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, fmt.Errorf("create company: %w", idgen.ErrIdentifierSpaceExhausted)
}

func (o *Orchestrator) mergeInto(ctx context.Context, res *Result, user *models.User, existing *models.Company, p models.CompanyProfile) (*Result, error) {
	company := existing
	if blanksOnly := p.WhereBlank(existing.Profile()); blanksOnly != (models.CompanyProfile{}) {
		var err error
		if company, err = o.updateProfile(ctx, existing.CompanyID, blanksOnly); err != nil {
			return nil, err
		}
	}
	updated, err := o.join(ctx, user, company, models.CompanyRoleMember)
	if err != nil {
		return nil, fmt.Errorf("join existing company: %w", err)
	}
	o.metrics.DomainMerge()
	o.logger.Info("company create merged into existing domain owner", zap.String("company_id", company.CompanyID), zap.String("user_id", user.ID.String()))
	res.User = updated
	res.Company = company
	res.Merged = true
	return o.decide(res, StateAutoJoined), nil
}

func (o *Orchestrator) updateProfile(ctx context.Context, companyID string, p models.CompanyProfile) (*models.Company, error) {
	company, err := o.companies.UpdateProfileFields(ctx, companyID, p)
	if err != nil {
		return nil, fmt.Errorf("update company profile: %w", err)
	}
	if err := o.users.RefreshCompanyCache(ctx, company); err != nil {
		o.logger.Warn("refresh user company cache failed", zap.String("company_id", companyID), zap.Error(err))
	}
	return company, nil
}

// UpdateProfile applies the non-empty fields of p to the user's company.
func (o *Orchestrator) UpdateProfile(ctx context.Context, user *models.User, p models.CompanyProfile) (*models.Company, error) {
	if !user.HasCompany() {
		return nil, database.ErrNotFound
	}
	return o.updateProfile(ctx, user.CompanyIDValue(), trimProfile(p))
}

func (o *Orchestrator) claimableDomain(user *models.User) string {
	if o.requireVerified && !user.EmailVerified {
		return ""
	}
	domain, _ := domains.ExtractDomain(user.Email)
	return domain
}

// enrichBlanks fills empty fields from the enricher. Failures are logged and ignored.
func (o *Orchestrator) enrichBlanks(ctx context.Context, p models.CompanyProfile, domain string) models.CompanyProfile {
	if o.enricher == nil {
		return p
	}
	found, err := o.enricher.Enrich(ctx, p.CompanyName, domain)
	if err != nil {
		if !errors.Is(err, enrichment.ErrDisabled) {
			o.logger.Warn("company enrichment failed", zap.String("company_name", p.CompanyName), zap.Error(err))
		}
		return p
	}
	return p.FillBlanks(found.Profile())
}

func trimProfile(p models.CompanyProfile) models.CompanyProfile {
	p.CompanyName = strings.TrimSpace(p.CompanyName)
	p.Industry = strings.TrimSpace(p.Industry)
	p.TotalEmployees = strings.TrimSpace(p.TotalEmployees)
	p.PhoneNumber = strings.TrimSpace(p.PhoneNumber)
	p.Address = strings.TrimSpace(p.Address)
	p.Website = strings.TrimSpace(p.Website)
	p.Description = strings.TrimSpace(p.Description)
	return p
}
