package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"net"
	"relay/interfaces"
	"relay/internals/metrics"
	"relay/internals/models"
	"relay/services/hub"
)

// The gRPC live channel uses well-known protobuf types only: the request is
// google.protobuf.Empty and every event is a google.protobuf.Struct shaped
// like the websocket frame, {"event": ..., "payload": ...}.
const (
	GrpcServiceName = "relay.Relay"
	SubscribeMethod = "/relay.Relay/Subscribe"

	subscriberHeader = "x-subscriber-id"
)

type relayStreamServer interface {
	Subscribe(*emptypb.Empty, grpc.ServerStream) error
}

var RelayServiceDesc = grpc.ServiceDesc{
	ServiceName: GrpcServiceName,
	HandlerType: (*relayStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "relay.proto",
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(relayStreamServer).Subscribe(in, stream)
}

type GrpcGateWay struct {
	subs   interfaces.Subscriptions
	guard  *Guard
	logger logrus.FieldLogger
}

func NewGrpcGateWay(subs interfaces.Subscriptions, guard *Guard, logger logrus.FieldLogger) *GrpcGateWay {
	return &GrpcGateWay{
		subs:   subs,
		guard:  guard,
		logger: logger.WithField("component", "grpc"),
	}
}

// Server returns a grpc.Server with the relay service registered.
func (gw *GrpcGateWay) Server(opts ...grpc.ServerOption) *grpc.Server {
	server := grpc.NewServer(opts...)
	server.RegisterService(&RelayServiceDesc, gw)
	return server
}

// Serve runs the gRPC server on listener until ctx is cancelled.
func (gw *GrpcGateWay) Serve(ctx context.Context, listener net.Listener) error {
	server := gw.Server()
	go func() {
		<-ctx.Done()
		server.GracefulStop()
	}()
	gw.logger.WithField("addr", listener.Addr().String()).Info("grpc gateway listening")
	if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (gw *GrpcGateWay) Subscribe(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	var credential string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(APIKeyHeader); len(values) > 0 {
			credential = values[0]
		}
	}
	if err := gw.guard.Check(credential); err != nil {
		if errors.Is(err, models.ErrKeyUnavailable) {
			gw.logger.WithError(err).Error("server key unavailable")
			return status.Error(codes.Internal, "Server key not found")
		}
		metrics.AuthFailures.WithLabelValues("grpc").Inc()
		return status.Error(codes.PermissionDenied, "Invalid API key")
	}

	sub := gw.subs.Subscribe()
	defer gw.subs.Unsubscribe(sub)
	logger := gw.logger.WithFields(logrus.Fields{"subscriber": sub.ID, "transport": "grpc"})

	if err := stream.SendHeader(metadata.Pairs(subscriberHeader, sub.ID)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub.C:
			if !ok {
				logger.WithError(sub.Err()).Warn("subscription ended by hub")
				if errors.Is(sub.Err(), hub.ErrClosed) {
					return status.Error(codes.Unavailable, "relay shutting down")
				}
				return status.Error(codes.ResourceExhausted, "subscriber dropped: queue full")
			}
			msg, err := EventToStruct(evt)
			if err != nil {
				logger.WithError(err).Error("encode event")
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				logger.WithError(err).Warn("grpc send failed")
				return err
			}
		}
	}
}

func EventToStruct(evt models.Event) (*structpb.Struct, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func StructToEvent(in *structpb.Struct) (models.Event, error) {
	data, err := protojson.Marshal(in)
	if err != nil {
		return models.Event{}, err
	}
	return models.DecodeEvent(data)
}

// GrpcSubscription is the client side of the Subscribe stream.
type GrpcSubscription struct {
	ID     string
	stream grpc.ClientStream
}

func SubscribeGrpc(ctx context.Context, conn grpc.ClientConnInterface, apiKey string) (*GrpcSubscription, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, APIKeyHeader, apiKey)
	stream, err := conn.NewStream(ctx, &RelayServiceDesc.Streams[0], SubscribeMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	// wait for the header so auth failures surface here; a stream rejected
	// before sending headers reports its status on the first receive
	md, err := stream.Header()
	if err != nil {
		return nil, err
	}
	if len(md.Get(subscriberHeader)) == 0 {
		if err := stream.RecvMsg(&structpb.Struct{}); err != nil {
			return nil, err
		}
		return nil, status.Error(codes.Unknown, "stream opened without subscriber id")
	}
	return &GrpcSubscription{stream: stream, ID: md.Get(subscriberHeader)[0]}, nil
}

func (s *GrpcSubscription) Recv() (models.Event, error) {
	msg := &structpb.Struct{}
	if err := s.stream.RecvMsg(msg); err != nil {
		return models.Event{}, err
	}
	return StructToEvent(msg)
}
