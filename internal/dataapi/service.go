package dataapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/crenshan/experiment-factory/internal/experiment"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "factory.v1.Assignments"

// Full method names, as seen by interceptors and recorded in metrics.
const (
	MethodGetAssignment = "/" + ServiceName + "/GetAssignment"
	MethodLogEvent      = "/" + ServiceName + "/LogEvent"
)

// GetAssignmentRequest asks for the caller's variant in one experiment.
type GetAssignmentRequest struct {
	ExperimentID string `json:"experiment_id"`
}

// GetAssignmentResponse carries the sticky assignment.
type GetAssignmentResponse struct {
	Assignment *experiment.Assignment `json:"assignment"`
}

// LogEventRequest records one event for the caller.
type LogEventRequest struct {
	ExperimentID   string `json:"experiment_id"`
	VariantID      string `json:"variant_id"`
	Type           string `json:"type"`
	Name           string `json:"name,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// LogEventResponse carries the stored event, or the original one for a replayed key.
type LogEventResponse struct {
	Event *experiment.Event `json:"event"`
}

// AssignmentsServer is the server side of factory.v1.Assignments.
type AssignmentsServer interface {
	GetAssignment(context.Context, *GetAssignmentRequest) (*GetAssignmentResponse, error)
	LogEvent(context.Context, *LogEventRequest) (*LogEventResponse, error)
}

// RegisterAssignmentsServer registers srv on s.
func RegisterAssignmentsServer(s grpc.ServiceRegistrar, srv AssignmentsServer) {
	s.RegisterService(&assignmentsServiceDesc, srv)
}

func getAssignmentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetAssignmentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AssignmentsServer).GetAssignment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetAssignment}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AssignmentsServer).GetAssignment(ctx, req.(*GetAssignmentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func logEventHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(LogEventRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AssignmentsServer).LogEvent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodLogEvent}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AssignmentsServer).LogEvent(ctx, req.(*LogEventRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var assignmentsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AssignmentsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAssignment", Handler: getAssignmentHandler},
		{MethodName: "LogEvent", Handler: logEventHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "factory/v1/assignments",
}

// Client calls factory.v1.Assignments over the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// GetAssignment returns the caller's assignment. The caller is identified by the
// "authorization" or "x-anonymous-id" outgoing metadata.
func (c *Client) GetAssignment(ctx context.Context, in *GetAssignmentRequest, opts ...grpc.CallOption) (*GetAssignmentResponse, error) {
	out := new(GetAssignmentResponse)
	if err := c.cc.Invoke(ctx, MethodGetAssignment, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// LogEvent records an event for the caller.
func (c *Client) LogEvent(ctx context.Context, in *LogEventRequest, opts ...grpc.CallOption) (*LogEventResponse, error) {
	out := new(LogEventResponse)
	if err := c.cc.Invoke(ctx, MethodLogEvent, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}
