package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
)

type sentMessage struct {
	idType, id, msgType, content string
}

type fakeSender struct {
	sent []sentMessage
	fail map[string]error
}

func (f *fakeSender) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	if err := f.fail[receiveID]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, sentMessage{receiveIDType, receiveID, msgType, content})
	return "om_1", nil
}

func notice(rm, data string) port.ApprovalNotice {
	req := entity.NewRequest("REQ_1", entity.KindTableAccess, "a@x.com", "ACME", "Sales",
		entity.Payload{Database: "SALES_DB", Schema: "PUBLIC", Table: "ORDERS", Reason: "reporting"},
		map[entity.Role]string{entity.RoleRM: rm, entity.RoleData: data}, time.Now())
	var links []port.ActionLink
	for _, a := range req.Approvals {
		for _, action := range []string{"approve", "reject"} {
			links = append(links, port.ActionLink{Role: a.Role, Assignee: a.Assignee, Action: action, URL: "https://x/action?type=" + a.Role.String() + "&action=" + action})
		}
	}
	return port.ApprovalNotice{
		RequestID: req.ID,
		Kind:      req.Kind,
		Requester: req.Requester,
		Assignees: req.Assignees(),
		Links:     links,
		Request:   req,
	}
}

func TestNotifier_OneCardPerAssignee(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, zap.NewNop())

	require.NoError(t, n.NotifyAssignees(context.Background(), notice("rm@x.com", "data@x.com")))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "email", sender.sent[0].idType)
	assert.Equal(t, "rm@x.com", sender.sent[0].id)
	assert.Equal(t, "interactive", sender.sent[0].msgType)
	assert.Equal(t, "data@x.com", sender.sent[1].id)

	var card map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(sender.sent[0].content), &card))
	assert.Contains(t, sender.sent[0].content, "type=rm\\u0026action=approve")
	assert.NotContains(t, sender.sent[0].content, "type=data")
	assert.Contains(t, sender.sent[0].content, "SALES_DB.PUBLIC.ORDERS")
}

func TestNotifier_SameAssigneeForBothRoles(t *testing.T) {
	sender := &fakeSender{}
	require.NoError(t, NewNotifier(sender, zap.NewNop()).NotifyAssignees(context.Background(), notice("both@x.com", "Both@x.com")))

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].content, "type=rm")
	assert.Contains(t, sender.sent[0].content, "type=data")
}

func TestNotifier_ContinuesAfterFailure(t *testing.T) {
	sender := &fakeSender{fail: map[string]error{"rm@x.com": errors.New("user not found")}}

	err := NewNotifier(sender, zap.NewNop()).NotifyAssignees(context.Background(), notice("rm@x.com", "data@x.com"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rm@x.com")
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "data@x.com", sender.sent[0].id)
}
