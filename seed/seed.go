package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mohitkumar/stepflow/catalog"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Member struct {
	UserId string `json:"user"`
	Role   string `json:"role"`
}

type Business struct {
	Id      string   `json:"id"`
	Members []Member `json:"members"`
}

type Workflow struct {
	CreatedBy string `json:"createdBy"`
	catalog.CreateWorkflowRequest
}

// File is the seed document: business memberships plus workflows to create
// on behalf of one of their members.
type File struct {
	Businesses []Business `json:"businesses"`
	Workflows  []Workflow `json:"workflows"`
}

type MemberRegistry interface {
	AddMember(businessId string, userId string, role string)
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse reads a yaml seed document. Steps go through the same json decoding
// as the http api so their configs are checked per step type.
func Parse(data []byte) (*File, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid seed yaml: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	f := &File{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("invalid seed document: %w", err)
	}
	for _, b := range f.Businesses {
		if len(b.Id) == 0 {
			return nil, fmt.Errorf("business id is required")
		}
		for _, m := range b.Members {
			if len(m.UserId) == 0 || len(m.Role) == 0 {
				return nil, fmt.Errorf("member of business %s needs user and role", b.Id)
			}
		}
	}
	return f, nil
}

func (f *File) ApplyMembers(registry MemberRegistry) {
	for _, b := range f.Businesses {
		for _, m := range b.Members {
			registry.AddMember(b.Id, m.UserId, m.Role)
		}
	}
}

// ApplyWorkflows creates the seeded workflows. A workflow whose name already
// exists in its business is left alone, so seeding twice is harmless.
func (f *File) ApplyWorkflows(ctx context.Context, svc catalog.Service) ([]*model.WorkflowWithSteps, error) {
	created := make([]*model.WorkflowWithSteps, 0, len(f.Workflows))
	for _, w := range f.Workflows {
		existing, err := svc.ListWorkflows(ctx, w.CreatedBy, w.BusinessId)
		if err != nil {
			return created, err
		}
		if hasWorkflow(existing, w.Name) {
			logger.Debug("seed workflow exists", zap.String("businessId", w.BusinessId), zap.String("name", w.Name))
			continue
		}
		wf, err := svc.CreateWorkflow(ctx, w.CreatedBy, w.CreateWorkflowRequest)
		if err != nil {
			return created, fmt.Errorf("seeding workflow %q: %w", w.Name, err)
		}
		created = append(created, wf)
	}
	logger.Info("seed applied", zap.Int("businesses", len(f.Businesses)), zap.Int("workflows", len(created)))
	return created, nil
}

func hasWorkflow(wfs []*model.Workflow, name string) bool {
	for _, wf := range wfs {
		if wf.Name == name {
			return true
		}
	}
	return false
}
