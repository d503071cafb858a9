package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mohitkumar/stepflow/access"
	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/mohitkumar/stepflow/catalog"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

const doc = `
businesses:
  - id: acme
    members:
      - user: alice
        role: owner
      - user: bob
        role: manager
workflows:
  - createdBy: alice
    businessId: acme
    name: weekly report
    trigger:
      type: scheduled
      schedule: "0 9 * * 1"
    approvalPolicy:
      type: single
      approverRoles: [manager]
    steps:
      - type: agent
        title: draft report
        config:
          prompt: "summarize {$.params.week}"
      - type: approval
        title: manager sign-off
        config:
          approverRole: manager
      - type: delay
        title: hold
        config:
          minutes: 30
`

func TestLoadAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.Businesses, 1)
	require.Len(t, f.Workflows, 1)
	require.Len(t, f.Workflows[0].Steps, 3)
	require.Equal(t, model.STEP_APPROVAL, f.Workflows[0].Steps[1].Type)
	require.Equal(t, "manager", f.Workflows[0].Steps[1].Config.Approval.ApproverRole)
	require.Equal(t, 30, f.Workflows[0].Steps[2].Config.Delay.Minutes)

	dir := access.NewMemoryDirectory()
	f.ApplyMembers(dir)
	role, err := dir.Role(context.Background(), "acme", "bob")
	require.NoError(t, err)
	require.Equal(t, "manager", role)

	svc := catalog.NewService(memory.NewMemoryStore(), dir)
	created, err := f.ApplyWorkflows(context.Background(), svc)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, "alice", created[0].CreatedBy)
	require.Len(t, created[0].Steps, 3)

	created, err = f.ApplyWorkflows(context.Background(), svc)
	require.NoError(t, err)
	require.Empty(t, created)
	wfs, err := svc.ListWorkflows(context.Background(), "alice", "acme")
	require.NoError(t, err)
	require.Len(t, wfs, 1)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("businesses:\n  - members:\n      - user: a\n        role: owner\n"))
	require.ErrorContains(t, err, "business id is required")

	_, err = Parse([]byte("businesses:\n  - id: acme\n    members:\n      - user: a\n"))
	require.ErrorContains(t, err, "needs user and role")

	_, err = Parse([]byte("workflows:\n  - name: x\n    steps:\n      - type: teleport\n        title: t\n"))
	require.Error(t, err)

	_, err = Parse([]byte("[unclosed"))
	require.Error(t, err)
}

func TestApplyRejectsNonMember(t *testing.T) {
	f, err := Parse([]byte(doc))
	require.NoError(t, err)
	svc := catalog.NewService(memory.NewMemoryStore(), access.NewMemoryDirectory())
	_, err = f.ApplyWorkflows(context.Background(), svc)
	require.True(t, api.IsForbidden(err))
}
