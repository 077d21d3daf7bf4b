package server

import (
	"encoding/json"
	"fmt"

	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct converts v's JSON form into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("toStruct: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("toStruct: %w", err)
	}
	return s, nil
}

// structJSON returns the JSON form of s.
func structJSON(s *structpb.Struct) ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("structJSON: %w", err)
	}
	return data, nil
}

// fromStruct decodes s into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := structJSON(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("fromStruct: %w", err)
	}
	return nil
}

// workersResponse is the body of every query returning bundles.
type workersResponse struct {
	Workers []capability.Bundle `json:"workers"`
}

// capabilityQuery selects workers by category and live tool availability.
type capabilityQuery struct {
	Category       string   `json:"category"`
	AvailableTools []string `json:"available_tools"`
	// ProbeHost also counts tools installed on the registry host.
	ProbeHost bool `json:"probe_host,omitempty"`
}

type permissionQuery struct {
	Category   string `json:"category"`
	Permission string `json:"permission"`
}

type metadataQuery struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type revokeRequest struct {
	WorkerID string `json:"worker_id"`
	Reason   string `json:"reason"`
}

type registerResponse struct {
	WorkerID  string `json:"worker_id"`
	ToolCount int    `json:"tool_count"`
}

type securityReportResponse struct {
	WorkerID string                      `json:"worker_id"`
	Tools    []capability.SecurityReport `json:"tools"`
}

type toolNamesResponse struct {
	ToolNames []string `json:"tool_names"`
}

type verificationResponse struct {
	Workers map[string]bool `json:"workers"`
}
