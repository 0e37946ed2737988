package nexus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

// GetAnalysis fetches a single analysis, including its status.
func (c *Client) GetAnalysis(ctx context.Context, analysisID string) (*Analysis, error) {
	var a Analysis
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/analyses/%s", analysisID), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// StateResults fetches the per-state aggregates for an analysis.
func (c *Client) StateResults(ctx context.Context, analysisID string) ([]StateResult, error) {
	var resp stateResultsResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/analyses/%s/results/states", analysisID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.States, nil
}

// Transactions fetches a page of transactions, optionally filtered by state.
// Pages start at 1.
func (c *Client) Transactions(ctx context.Context, analysisID, stateCode string, page, perPage int) ([]Transaction, int, error) {
	if page <= 0 {
		page = 1
	}
	q := map[string]string{
		"page":     strconv.Itoa(page),
		"per_page": strconv.Itoa(perPage),
	}
	if stateCode != "" {
		q["state_code"] = stateCode
	}
	var resp transactionsResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/analyses/%s/transactions", analysisID), q, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Transactions, resp.Total, nil
}

type registrationsBody struct {
	RegisteredStates []string `json:"registered_states"`
}

// SetAnalysisRegistrations replaces the registered-state set stored on an
// analysis.
func (c *Client) SetAnalysisRegistrations(ctx context.Context, analysisID string, states []string) error {
	err := c.writeJSON(ctx, http.MethodPatch,
		fmt.Sprintf("/api/v1/analyses/%s/registrations", analysisID),
		registrationsBody{RegisteredStates: states}, nil)
	if err != nil {
		return err
	}
	c.invalidate(fmt.Sprintf("/api/v1/analyses/%s", analysisID))
	return nil
}

// SetClientRegistrations replaces the registered-state set stored on a client.
func (c *Client) SetClientRegistrations(ctx context.Context, clientID string, states []string) error {
	err := c.writeJSON(ctx, http.MethodPatch,
		fmt.Sprintf("/api/v1/clients/%s", clientID),
		registrationsBody{RegisteredStates: states}, nil)
	if err != nil {
		return err
	}
	c.invalidate(fmt.Sprintf("/api/v1/clients/%s", clientID))
	return nil
}

type saveExemptionsBody struct {
	Changes              []ExemptionChange `json:"changes"`
	TriggerRecalculation bool              `json:"trigger_recalculation"`
}

// SaveExemptions flushes a batch of exemption changes in one request and has
// the engine recalculate.
func (c *Client) SaveExemptions(ctx context.Context, analysisID string, changes []ExemptionChange) (*SaveExemptionsResult, error) {
	var res SaveExemptionsResult
	err := c.writeJSON(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/analyses/%s/exemptions/save-and-recalculate", analysisID),
		saveExemptionsBody{Changes: changes, TriggerRecalculation: true}, &res)
	if err != nil {
		return nil, err
	}
	c.invalidate(
		fmt.Sprintf("/api/v1/analyses/%s/transactions", analysisID),
		fmt.Sprintf("/api/v1/analyses/%s/results/states", analysisID),
		fmt.Sprintf("/api/v1/analyses/%s", analysisID),
	)
	return &res, nil
}

// Recalculate runs a synchronous recalculation. It returns only after the
// engine has updated the liability figures.
func (c *Client) Recalculate(ctx context.Context, analysisID string) (*RecalculateResult, error) {
	var res RecalculateResult
	err := c.writeJSON(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/analyses/%s/recalculate", analysisID), nil, &res)
	if err != nil {
		return nil, err
	}
	c.invalidate(
		fmt.Sprintf("/api/v1/analyses/%s/results/states", analysisID),
		fmt.Sprintf("/api/v1/analyses/%s/vda-comparison", analysisID),
		fmt.Sprintf("/api/v1/analyses/%s", analysisID),
	)
	return &res, nil
}

// PhysicalNexus fetches all physical-presence records for an analysis.
func (c *Client) PhysicalNexus(ctx context.Context, analysisID string) ([]PhysicalNexusRecord, error) {
	var resp physicalNexusResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/analyses/%s/physical-nexus", analysisID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// CreatePhysicalNexus creates a physical-presence record.
func (c *Client) CreatePhysicalNexus(ctx context.Context, analysisID string, rec PhysicalNexusRecord) error {
	err := c.writeJSON(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/analyses/%s/physical-nexus", analysisID), rec, nil)
	if err != nil {
		return err
	}
	c.invalidate(fmt.Sprintf("/api/v1/analyses/%s/physical-nexus", analysisID))
	return nil
}

// UpdatePhysicalNexus updates the record for one state.
func (c *Client) UpdatePhysicalNexus(ctx context.Context, analysisID, stateCode string, rec PhysicalNexusRecord) error {
	err := c.writeJSON(ctx, http.MethodPatch,
		fmt.Sprintf("/api/v1/analyses/%s/physical-nexus/%s", analysisID, stateCode), rec, nil)
	if err != nil {
		return err
	}
	c.invalidate(fmt.Sprintf("/api/v1/analyses/%s/physical-nexus", analysisID))
	return nil
}

// DeletePhysicalNexus removes the record for one state.
func (c *Client) DeletePhysicalNexus(ctx context.Context, analysisID, stateCode string) error {
	err := c.writeJSON(ctx, http.MethodDelete,
		fmt.Sprintf("/api/v1/analyses/%s/physical-nexus/%s", analysisID, stateCode), nil, nil)
	if err != nil {
		return err
	}
	c.invalidate(fmt.Sprintf("/api/v1/analyses/%s/physical-nexus", analysisID))
	return nil
}

// GetClientProfile fetches a client profile with its categorized state lists.
func (c *Client) GetClientProfile(ctx context.Context, clientID string) (*ClientProfile, error) {
	var p ClientProfile
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/clients/%s", clientID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type profileStatesBody struct {
	RemoteEmployeeStates []string `json:"remote_employee_states"`
	Inventory3PLStates   []string `json:"inventory_3pl_states"`
	OfficeStates         []string `json:"office_states"`
}

// SetClientProfileStates replaces the categorized state lists on a client
// profile.
func (c *Client) SetClientProfileStates(ctx context.Context, clientID string, remote, inventory, office []string) error {
	err := c.writeJSON(ctx, http.MethodPatch,
		fmt.Sprintf("/api/v1/clients/%s", clientID),
		profileStatesBody{
			RemoteEmployeeStates: remote,
			Inventory3PLStates:   inventory,
			OfficeStates:         office,
		}, nil)
	if err != nil {
		return err
	}
	c.invalidate(fmt.Sprintf("/api/v1/clients/%s", clientID))
	return nil
}

type activityNoteBody struct {
	Message   string           `json:"message"`
	Liability *LiabilityTotals `json:"liability,omitempty"`
}

// AppendActivityNote adds a human-readable note to the client's timeline,
// optionally with a snapshot of current liability totals.
func (c *Client) AppendActivityNote(ctx context.Context, clientID, message string, liability *LiabilityTotals) error {
	return c.writeJSON(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/clients/%s/activity", clientID),
		activityNoteBody{Message: message, Liability: liability}, nil)
}

// VDAComparisons fetches per-state VDA savings modeling.
func (c *Client) VDAComparisons(ctx context.Context, analysisID string) ([]VDAComparison, error) {
	var resp vdaComparisonResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/analyses/%s/vda-comparison", analysisID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.States, nil
}

// UploadAnalysis streams a transaction file to the engine and returns the new
// analysis, initially in processing status.
func (c *Client) UploadAnalysis(ctx context.Context, name, fileName string, file io.Reader) (*Analysis, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", name); err != nil {
		return nil, err
	}
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newReq(ctx, http.MethodPost, "/api/v1/analyses", nil, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &Error{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var a Analysis
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &a, nil
}
