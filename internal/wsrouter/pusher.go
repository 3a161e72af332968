package wsrouter

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
)

// ErrGone is returned when the target connection no longer exists.
var ErrGone = errors.New("connection gone")

// Pusher delivers a frame to one WebSocket connection.
type Pusher interface {
	Push(ctx context.Context, connectionID string, data []byte) error
}

// ManagementAPI is the subset of the API Gateway Management client used by
// GatewayPusher.
type ManagementAPI interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// GatewayPusher pushes frames through the API Gateway Management API.
type GatewayPusher struct {
	client ManagementAPI
}

// NewGatewayPusher builds a pusher for the given callback endpoint, e.g.
// https://{api-id}.execute-api.{region}.amazonaws.com/{stage}.
func NewGatewayPusher(cfg aws.Config, endpoint string) *GatewayPusher {
	client := apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &GatewayPusher{client: client}
}

// NewGatewayPusherWithClient wraps an existing management client.
func NewGatewayPusherWithClient(client ManagementAPI) *GatewayPusher {
	return &GatewayPusher{client: client}
}

// Push posts data to a connection. A GoneException maps to ErrGone.
func (p *GatewayPusher) Push(ctx context.Context, connectionID string, data []byte) error {
	_, err := p.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	if err != nil {
		var gone *types.GoneException
		if errors.As(err, &gone) {
			return ErrGone
		}
		return fmt.Errorf("post to connection %s: %w", connectionID, err)
	}
	return nil
}
