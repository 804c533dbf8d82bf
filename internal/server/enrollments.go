package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coursekit/enroll/internal/gap"
	grantdomain "github.com/coursekit/enroll/internal/grant/domain"
	"github.com/gin-gonic/gin"
)

type enrollmentRequest struct {
	OrgID                 string `json:"org_id"`
	LearnerID             string `json:"learner_id" binding:"required"`
	OfferingID            string `json:"offering_id" binding:"required"`
	PlanID                string `json:"plan_id"`
	DestinationOfferingID string `json:"destination_offering_id"`
	SubOrgID              string `json:"sub_org_id"`
	RoleTags              string `json:"role_tags"`
	Status                string `json:"status"`
	Kind                  string `json:"kind"`
}

type grantResponse struct {
	ID                    string  `json:"id"`
	OrgID                 string  `json:"org_id"`
	LearnerID             string  `json:"learner_id"`
	OfferingID            string  `json:"offering_id"`
	PlanID                *string `json:"plan_id,omitempty"`
	DestinationOfferingID *string `json:"destination_offering_id,omitempty"`
	Status                string  `json:"status"`
	Kind                  string  `json:"kind"`
	StartDate             string  `json:"start_date"`
	EndDate               *string `json:"end_date,omitempty"`
}

func grantToResponse(grant *grantdomain.AccessGrant) grantResponse {
	resp := grantResponse{
		ID:         grant.ID.String(),
		OrgID:      grant.OrgID.String(),
		LearnerID:  grant.UserID.String(),
		OfferingID: grant.OfferingID.String(),
		Status:     string(grant.Status),
		Kind:       string(grant.Kind),
		StartDate:  grant.StartDate.UTC().Format(time.RFC3339),
	}
	if grant.PlanID != nil {
		v := grant.PlanID.String()
		resp.PlanID = &v
	}
	if grant.DestinationOfferingID != nil {
		v := grant.DestinationOfferingID.String()
		resp.DestinationOfferingID = &v
	}
	if grant.EndDate != nil {
		v := grant.EndDate.UTC().Format(time.RFC3339)
		resp.EndDate = &v
	}
	return resp
}

func (s *Server) CreateEnrollment(c *gin.Context) {
	var req enrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	link, err := s.linkRequestFrom(req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	grant, err := s.grantSvc.LinkOrUpdate(c.Request.Context(), link)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"grant": grantToResponse(grant)})
}

type promoteRequest struct {
	OrgID                 string `json:"org_id"`
	LearnerID             string `json:"learner_id" binding:"required"`
	OfferingID            string `json:"offering_id" binding:"required"`
	DestinationOfferingID string `json:"destination_offering_id"`
}

func (s *Server) PromoteEnrollment(c *gin.Context) {
	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, err := s.orgIDFrom(req.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	learnerID, err := parseID("learner_id", req.LearnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	offeringID, err := parseID("offering_id", req.OfferingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	destinationID, err := parseOptionalID("destination_offering_id", req.DestinationOfferingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	grant, err := s.grantSvc.PromoteInvited(c.Request.Context(), orgID, learnerID, offeringID, destinationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"grant": grantToResponse(grant)})
}

type gapCheckRequest struct {
	OrgID       string   `json:"org_id"`
	LearnerID   string   `json:"learner_id" binding:"required"`
	OfferingIDs []string `json:"offering_ids" binding:"required,min=1"`
}

type gapCheckResult struct {
	OfferingID string  `json:"offering_id"`
	RetryAfter *string `json:"retry_after,omitempty"`
	GapDays    int     `json:"gap_days,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// GapCheck partitions a multi-offering purchase intent into offerings
// the learner may enter now and offerings still inside their gap. One
// blocked offering never rejects the whole request.
func (s *Server) GapCheck(c *gin.Context) {
	var req gapCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, err := s.orgIDFrom(req.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	learnerID, err := parseID("learner_id", req.LearnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	candidates := make([]gap.Candidate, 0, len(req.OfferingIDs))
	for _, raw := range req.OfferingIDs {
		offeringID, err := parseID("offering_ids", raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		offering, err := s.offerings.FindByID(ctx, s.db, orgID, offeringID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		candidates = append(candidates, gap.Candidate{
			OfferingID: offering.ID,
			Policy:     s.resolver.Resolve(offering.ID, offering.PolicyBlob).Policy,
		})
	}

	allowed, blocked := s.validator.ValidateAll(ctx, orgID, learnerID, candidates, s.clock.Now())

	c.JSON(http.StatusOK, gin.H{
		"allowed": gapResults(allowed),
		"blocked": gapResults(blocked),
	})
}

func gapResults(results []gap.Result) []gapCheckResult {
	out := make([]gapCheckResult, 0, len(results))
	for _, result := range results {
		item := gapCheckResult{
			OfferingID: result.OfferingID.String(),
			GapDays:    result.Decision.GapDays,
		}
		if result.Decision.RetryAfter != nil {
			v := result.Decision.RetryAfter.UTC().Format("2006-01-02")
			item.RetryAfter = &v
		}
		if result.Err != nil {
			item.Error = "lookup_failed"
		}
		out = append(out, item)
	}
	return out
}

func (s *Server) linkRequestFrom(req enrollmentRequest) (grantdomain.LinkRequest, error) {
	orgID, err := s.orgIDFrom(req.OrgID)
	if err != nil {
		return grantdomain.LinkRequest{}, err
	}
	learnerID, err := parseID("learner_id", req.LearnerID)
	if err != nil {
		return grantdomain.LinkRequest{}, err
	}
	offeringID, err := parseID("offering_id", req.OfferingID)
	if err != nil {
		return grantdomain.LinkRequest{}, err
	}
	planID, err := parseOptionalID("plan_id", req.PlanID)
	if err != nil {
		return grantdomain.LinkRequest{}, err
	}
	destinationID, err := parseOptionalID("destination_offering_id", req.DestinationOfferingID)
	if err != nil {
		return grantdomain.LinkRequest{}, err
	}
	subOrgID, err := parseOptionalID("sub_org_id", req.SubOrgID)
	if err != nil {
		return grantdomain.LinkRequest{}, err
	}

	return grantdomain.LinkRequest{
		OrgID:                 orgID,
		LearnerID:             learnerID,
		OfferingID:            offeringID,
		PlanID:                planID,
		DestinationOfferingID: destinationID,
		SubOrgID:              subOrgID,
		RoleTags:              strings.TrimSpace(req.RoleTags),
		Status:                grantdomain.GrantStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Kind:                  grantdomain.GrantKind(strings.ToUpper(strings.TrimSpace(req.Kind))),
	}, nil
}

// orgIDFrom resolves the tenant: an explicit org_id wins, otherwise the
// configured default org.
func (s *Server) orgIDFrom(raw string) (snowflake.ID, error) {
	if strings.TrimSpace(raw) == "" {
		if s.cfg.DefaultOrgID != 0 {
			return snowflake.ID(s.cfg.DefaultOrgID), nil
		}
		return 0, newValidationError("org_id", "required", "org_id is required")
	}
	return parseID("org_id", raw)
}

func parseID(field, raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, newValidationError(field, "invalid_id", field+" must be a numeric id")
	}
	return id, nil
}

func parseOptionalID(field, raw string) (*snowflake.ID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := parseID(field, raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
