package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls a remote wallet service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Configure(ctx context.Context, in *ConfigureRequest, opts ...grpc.CallOption) (*ConfigureResponse, error) {
	return invoke[ConfigureResponse](ctx, c, "Configure", in, opts)
}

func (c *Client) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c, "Register", in, opts)
}

func (c *Client) UpdateRegistration(ctx context.Context, in *UpdateRegistrationRequest, opts ...grpc.CallOption) (*SuccessResponse, error) {
	return invoke[SuccessResponse](ctx, c, "UpdateRegistration", in, opts)
}

func (c *Client) ClaimCoins(ctx context.Context, in *ClaimCoinsRequest, opts ...grpc.CallOption) (*ClaimCoinsResponse, error) {
	return invoke[ClaimCoinsResponse](ctx, c, "ClaimCoins", in, opts)
}

func (c *Client) GenerateMintTx(ctx context.Context, in *GenerateMintTxRequest, opts ...grpc.CallOption) (*GenerateTxResponse, error) {
	return invoke[GenerateTxResponse](ctx, c, "GenerateMintTx", in, opts)
}

func (c *Client) GenerateBurnTx(ctx context.Context, in *GenerateBurnTxRequest, opts ...grpc.CallOption) (*GenerateTxResponse, error) {
	return invoke[GenerateTxResponse](ctx, c, "GenerateBurnTx", in, opts)
}

func (c *Client) GenerateTransferTx(ctx context.Context, in *GenerateTransferTxRequest, opts ...grpc.CallOption) (*GenerateTxResponse, error) {
	return invoke[GenerateTxResponse](ctx, c, "GenerateTransferTx", in, opts)
}

func (c *Client) GetState(ctx context.Context, in *GetStateRequest, opts ...grpc.CallOption) (*GetStateResponse, error) {
	return invoke[GetStateResponse](ctx, c, "GetState", in, opts)
}

func (c *Client) SetAppData(ctx context.Context, in *SetAppDataRequest, opts ...grpc.CallOption) (*SuccessResponse, error) {
	return invoke[SuccessResponse](ctx, c, "SetAppData", in, opts)
}

func (c *Client) GetAppData(ctx context.Context, in *GetAppDataRequest, opts ...grpc.CallOption) (*GetAppDataResponse, error) {
	return invoke[GetAppDataResponse](ctx, c, "GetAppData", in, opts)
}

func (c *Client) AbandonTx(ctx context.Context, in *AbandonTxRequest, opts ...grpc.CallOption) (*AbandonTxResponse, error) {
	return invoke[AbandonTxResponse](ctx, c, "AbandonTx", in, opts)
}
