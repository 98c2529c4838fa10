package sheet

import (
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"github.com/garyjia/access-approval/pkg/tabular"
)

// Logical field names shared by the request tables
const (
	fieldRequestType   = "request_type"
	fieldRequestID     = "request_id"
	fieldRequesterName = "requester_name"
	fieldEmail         = "email"
	fieldEntity        = "entity"
	fieldDefaultRole   = "default_role"
	fieldObjectSource  = "object_source"
	fieldDatabase      = "database"
	fieldSchema        = "schema"
	fieldTable         = "table"
	fieldColumns       = "columns"
	fieldBusinessUnit  = "business_unit"
	fieldSharedStatus  = "shared_status"
	fieldGrantee       = "grantee"
	fieldRequestingFor = "requesting_for"
	fieldValidity      = "validity"
	fieldReason        = "reason"
	fieldRMApprover    = "rm_approver"
	fieldDataApprover  = "data_approver"
	fieldRMStatus      = "rm_status"
	fieldDataStatus    = "data_status"
	fieldManager       = "manager"
	fieldManagerStatus = "manager_status"
	fieldRequestedRole = "requested_role"
	fieldSubmittedAt   = "submitted_at"
)

const timestampLayout = "2006-01-02 15:04:05"

// accessSchema describes the table/column access request table. The first
// alias of each field is the header written when the table is created.
var accessSchema = tabular.Schema{
	{Name: fieldRequestType, Aliases: []string{"REQUEST_TYPE"}, Required: true},
	{Name: fieldRequestID, Aliases: []string{"REQUEST_ID", "Request_id"}, Required: true},
	{Name: fieldRequesterName, Aliases: []string{"USER_NAME", "NAME"}},
	{Name: fieldEmail, Aliases: []string{"EMAIL", "Email"}, Required: true},
	{Name: fieldEntity, Aliases: []string{"ENTITY", "Entity"}, Required: true},
	{Name: fieldDefaultRole, Aliases: []string{"DEFAULT_ROLE"}},
	{Name: fieldObjectSource, Aliases: []string{"OBJECT_SOURCE"}},
	{Name: fieldDatabase, Aliases: []string{"DATABASE", "Database"}},
	{Name: fieldSchema, Aliases: []string{"SCHEMA", "Schema"}},
	{Name: fieldTable, Aliases: []string{"TABLE", "Table"}},
	{Name: fieldColumns, Aliases: []string{"COLUMN_NAMES", "Column"}},
	{Name: fieldBusinessUnit, Aliases: []string{"BUSINESS_UNIT", "BU"}},
	{Name: fieldSharedStatus, Aliases: []string{"SHARED_STATUS"}},
	{Name: fieldGrantee, Aliases: []string{"GRANTEE"}},
	{Name: fieldRequestingFor, Aliases: []string{"REQUESTING_FOR"}},
	{Name: fieldValidity, Aliases: []string{"VALIDITY"}},
	{Name: fieldReason, Aliases: []string{"REASON"}},
	{Name: fieldRMApprover, Aliases: []string{"RM_APPROVER", "RM_Approver"}, Required: true},
	{Name: fieldDataApprover, Aliases: []string{"DATA_APPROVER", "Data_Approver"}, Required: true},
	{Name: fieldRMStatus, Aliases: []string{"RM_APPROVER_STATUS"}, Required: true},
	{Name: fieldDataStatus, Aliases: []string{"DATA_APPROVER_STATUS"}, Required: true},
	{Name: fieldSubmittedAt, Aliases: []string{"SUBMITTED_AT", "TIMESTAMP", "Timestamp"}},
}

// userSchema describes the user-creation request table.
var userSchema = tabular.Schema{
	{Name: fieldRequestID, Aliases: []string{"Request_id", "REQUEST_ID"}, Required: true},
	{Name: fieldEmail, Aliases: []string{"User", "EMAIL"}, Required: true},
	{Name: fieldManager, Aliases: []string{"Manager_Email", "Manager_email", "Manager", "Manager_email_id"}, Required: true},
	{Name: fieldBusinessUnit, Aliases: []string{"BU", "BUSINESS_UNIT"}},
	{Name: fieldEntity, Aliases: []string{"Entity", "ENTITY"}, Required: true},
	{Name: fieldManagerStatus, Aliases: []string{"Approval_status", "APPROVAL_STATUS"}, Required: true},
	{Name: fieldRequestedRole, Aliases: []string{"Role", "ROLE"}},
	{Name: fieldSubmittedAt, Aliases: []string{"SUBMITTED_AT", "TIMESTAMP", "Timestamp"}},
}

// idSchema is the minimal projection used for uniqueness checks.
var idSchema = tabular.Schema{
	{Name: fieldRequestID, Aliases: []string{"REQUEST_ID", "Request_id"}, Required: true},
}

// requestTable binds a schema to the request kinds it stores.
type requestTable struct {
	name        string
	schema      tabular.Schema
	kinds       []entity.Kind
	statusField map[entity.Role]string
	decode      func(rec tabular.Record, loc *time.Location) (*entity.Request, error)
	encode      func(req *entity.Request) tabular.Record
}

func (t *requestTable) holds(kind entity.Kind) bool {
	for _, k := range t.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// header is the canonical header for a freshly created table.
func (t *requestTable) header() []string {
	h := make([]string, 0, len(t.schema))
	for _, f := range t.schema {
		h = append(h, f.Aliases[0])
	}
	return h
}

func newAccessTable(name string) *requestTable {
	return &requestTable{
		name:   name,
		schema: accessSchema,
		kinds:  []entity.Kind{entity.KindTableAccess, entity.KindColumnUnhash},
		statusField: map[entity.Role]string{
			entity.RoleRM:   fieldRMStatus,
			entity.RoleData: fieldDataStatus,
		},
		decode: decodeAccess,
		encode: encodeAccess,
	}
}

func newUserTable(name string) *requestTable {
	return &requestTable{
		name:   name,
		schema: userSchema,
		kinds:  []entity.Kind{entity.KindUserCreation},
		statusField: map[entity.Role]string{
			entity.RoleManager: fieldManagerStatus,
		},
		decode: decodeUser,
		encode: encodeUser,
	}
}

func decodeAccess(rec tabular.Record, loc *time.Location) (*entity.Request, error) {
	kind, err := entity.ParseKind(rec.Get(fieldRequestType))
	if err != nil {
		return nil, err
	}
	if !kind.IsAccess() {
		return nil, fmt.Errorf("%w: %s row in access table", workflow.ErrInvalidRequest, kind)
	}
	rmStatus, err := workflow.ParseState(rec.Get(fieldRMStatus))
	if err != nil {
		return nil, fmt.Errorf("rm status: %w", err)
	}
	dataStatus, err := workflow.ParseState(rec.Get(fieldDataStatus))
	if err != nil {
		return nil, fmt.Errorf("data status: %w", err)
	}

	return &entity.Request{
		ID:           strings.TrimSpace(rec.Get(fieldRequestID)),
		Kind:         kind,
		Requester:    strings.TrimSpace(rec.Get(fieldEmail)),
		Entity:       rec.Get(fieldEntity),
		BusinessUnit: rec.Get(fieldBusinessUnit),
		SubmittedAt:  parseTimestamp(rec.Get(fieldSubmittedAt), loc),
		Payload: entity.Payload{
			RequesterName: rec.Get(fieldRequesterName),
			DefaultRole:   rec.Get(fieldDefaultRole),
			ObjectSource:  rec.Get(fieldObjectSource),
			Database:      rec.Get(fieldDatabase),
			Schema:        rec.Get(fieldSchema),
			Table:         rec.Get(fieldTable),
			Columns:       rec.Get(fieldColumns),
			SharedStatus:  rec.Get(fieldSharedStatus),
			Grantee:       rec.Get(fieldGrantee),
			RequestingFor: rec.Get(fieldRequestingFor),
			Validity:      rec.Get(fieldValidity),
			Reason:        rec.Get(fieldReason),
		},
		Approvals: []entity.Approval{
			{Role: entity.RoleRM, Assignee: strings.TrimSpace(rec.Get(fieldRMApprover)), Status: rmStatus},
			{Role: entity.RoleData, Assignee: strings.TrimSpace(rec.Get(fieldDataApprover)), Status: dataStatus},
		},
	}, nil
}

func encodeAccess(req *entity.Request) tabular.Record {
	p := req.Payload
	return tabular.Record{
		fieldRequestType:   req.Kind.String(),
		fieldRequestID:     req.ID,
		fieldRequesterName: p.RequesterName,
		fieldEmail:         req.Requester,
		fieldEntity:        req.Entity,
		fieldDefaultRole:   p.DefaultRole,
		fieldObjectSource:  p.ObjectSource,
		fieldDatabase:      p.Database,
		fieldSchema:        p.Schema,
		fieldTable:         p.Table,
		fieldColumns:       p.Columns,
		fieldBusinessUnit:  req.BusinessUnit,
		fieldSharedStatus:  p.SharedStatus,
		fieldGrantee:       p.Grantee,
		fieldRequestingFor: p.RequestingFor,
		fieldValidity:      p.Validity,
		fieldReason:        p.Reason,
		fieldRMApprover:    req.Assignee(entity.RoleRM),
		fieldDataApprover:  req.Assignee(entity.RoleData),
		fieldRMStatus:      workflow.StatePending.String(),
		fieldDataStatus:    workflow.StatePending.String(),
		fieldSubmittedAt:   formatTimestamp(req.SubmittedAt),
	}
}

func decodeUser(rec tabular.Record, loc *time.Location) (*entity.Request, error) {
	manager := strings.TrimSpace(rec.Get(fieldManager))
	status, err := workflow.ParseState(rec.Get(fieldManagerStatus))
	if err != nil {
		return nil, fmt.Errorf("manager status: %w", err)
	}
	return &entity.Request{
		ID:           strings.TrimSpace(rec.Get(fieldRequestID)),
		Kind:         entity.KindUserCreation,
		Requester:    strings.TrimSpace(rec.Get(fieldEmail)),
		Entity:       rec.Get(fieldEntity),
		BusinessUnit: rec.Get(fieldBusinessUnit),
		SubmittedAt:  parseTimestamp(rec.Get(fieldSubmittedAt), loc),
		Payload: entity.Payload{
			ManagerEmail:  manager,
			RequestedRole: rec.Get(fieldRequestedRole),
		},
		Approvals: []entity.Approval{
			{Role: entity.RoleManager, Assignee: manager, Status: status},
		},
	}, nil
}

func encodeUser(req *entity.Request) tabular.Record {
	return tabular.Record{
		fieldRequestID:     req.ID,
		fieldEmail:         req.Requester,
		fieldManager:       req.Assignee(entity.RoleManager),
		fieldBusinessUnit:  req.BusinessUnit,
		fieldEntity:        req.Entity,
		fieldManagerStatus: workflow.StatePending.String(),
		fieldRequestedRole: req.Payload.RequestedRole,
		fieldSubmittedAt:   formatTimestamp(req.SubmittedAt),
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timestampLayout)
}

func parseTimestamp(s string, loc *time.Location) time.Time {
	t, err := time.ParseInLocation(timestampLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}
