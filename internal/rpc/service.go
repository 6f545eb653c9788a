// Package rpc exposes a wallet as the gRPC service
// privacy.wallet.v1.PrivacyWalletService. Messages are the JSON encoded
// structs of this package rather than generated protobuf types.
package rpc

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"privwallet/internal/metrics"
	"privwallet/internal/transactions"
	"privwallet/internal/utt"
	"privwallet/internal/wallet"
)

const serviceName = "privacy.wallet.v1.PrivacyWalletService"

// WalletServer is the server side of the service.
type WalletServer interface {
	Configure(context.Context, *ConfigureRequest) (*ConfigureResponse, error)
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	UpdateRegistration(context.Context, *UpdateRegistrationRequest) (*SuccessResponse, error)
	ClaimCoins(context.Context, *ClaimCoinsRequest) (*ClaimCoinsResponse, error)
	GenerateMintTx(context.Context, *GenerateMintTxRequest) (*GenerateTxResponse, error)
	GenerateBurnTx(context.Context, *GenerateBurnTxRequest) (*GenerateTxResponse, error)
	GenerateTransferTx(context.Context, *GenerateTransferTxRequest) (*GenerateTxResponse, error)
	GetState(context.Context, *GetStateRequest) (*GetStateResponse, error)
	SetAppData(context.Context, *SetAppDataRequest) (*SuccessResponse, error)
	GetAppData(context.Context, *GetAppDataRequest) (*GetAppDataResponse, error)
	AbandonTx(context.Context, *AbandonTxRequest) (*AbandonTxResponse, error)
}

func unary[Req, Resp any](name string, call func(WalletServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WalletServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(WalletServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WalletServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Configure", WalletServer.Configure),
		unary("Register", WalletServer.Register),
		unary("UpdateRegistration", WalletServer.UpdateRegistration),
		unary("ClaimCoins", WalletServer.ClaimCoins),
		unary("GenerateMintTx", WalletServer.GenerateMintTx),
		unary("GenerateBurnTx", WalletServer.GenerateBurnTx),
		unary("GenerateTransferTx", WalletServer.GenerateTransferTx),
		unary("GetState", WalletServer.GetState),
		unary("SetAppData", WalletServer.SetAppData),
		unary("GetAppData", WalletServer.GetAppData),
		unary("AbandonTx", WalletServer.AbandonTx),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "privacy/wallet/v1/wallet.proto",
}

// Server serves one wallet.
type Server struct {
	wallet  *wallet.Wallet
	log     zerolog.Logger
	metrics *metrics.Collector
}

// NewServer wraps w. A nil collector disables error counting.
func NewServer(w *wallet.Wallet, log zerolog.Logger, m *metrics.Collector) *Server {
	return &Server{wallet: w, log: log, metrics: m}
}

// GRPCServer builds a grpc.Server with the service and its logging
// interceptor registered.
func (s *Server) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.intercept))
	g := grpc.NewServer(opts...)
	g.RegisterService(&ServiceDesc, s)
	return g
}

// intercept logs every call and converts wallet errors into statuses.
func (s *Server) intercept(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	id := uuid.NewString()
	resp, err := handler(ctx, req)
	err = toStatus(err)
	code := status.Code(err)
	var ev *zerolog.Event
	if err != nil {
		ev = s.log.Warn().Str("error", status.Convert(err).Message())
		if s.metrics != nil {
			s.metrics.RecordError(code.String())
		}
	} else {
		ev = s.log.Info()
	}
	ev.Str("request_id", id).Str("method", info.FullMethod).Str("code", code.String()).
		Dur("duration", time.Since(start)).Msg("wallet request")
	return resp, err
}

func (s *Server) Configure(ctx context.Context, req *ConfigureRequest) (*ConfigureResponse, error) {
	if err := s.wallet.Configure(ctx, req.UserID, req.PrivateKey); err != nil {
		return nil, err
	}
	pk, err := s.wallet.PublicKey()
	if err != nil {
		return nil, err
	}
	return &ConfigureResponse{Succ: true, PublicKey: pk}, nil
}

func (s *Server) Register(ctx context.Context, _ *RegisterRequest) (*RegisterResponse, error) {
	r, err := s.wallet.Register(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := r.Marshal()
	if err != nil {
		return nil, err
	}
	rcm, _ := r.RCM1().MarshalBinary()
	pid := utt.HashPID(r.Identity)
	return &RegisterResponse{Request: raw, RCM1: rcm, PID: pid.Text(16)}, nil
}

func (s *Server) UpdateRegistration(ctx context.Context, req *UpdateRegistrationRequest) (*SuccessResponse, error) {
	shares := make([]utt.BlindShare, len(req.Shares))
	for i, raw := range req.Shares {
		if err := cbor.Unmarshal(raw, &shares[i]); err != nil {
			return nil, errors.Wrapf(utt.ErrInvalidArgument, "share %d: %v", i, err)
		}
	}
	var s2 utt.Scalar
	if err := s2.UnmarshalBinary(req.S2); err != nil {
		return nil, errors.Wrapf(utt.ErrInvalidArgument, "s2: %v", err)
	}
	err := s.wallet.UpdateRegistration(ctx, shares, s2)
	switch {
	case err == nil:
		return &SuccessResponse{Succ: true}, nil
	case utt.KindOf(err) == utt.KindConfiguration:
		return nil, err
	default:
		return nil, status.Error(codes.Aborted, "unable to update registration data: "+err.Error())
	}
}

func (s *Server) ClaimCoins(ctx context.Context, req *ClaimCoinsRequest) (*ClaimCoinsResponse, error) {
	typ, err := transactions.ParseType(req.Type)
	if err != nil {
		return nil, errors.Wrap(utt.ErrInvalidArgument, err.Error())
	}
	tx, err := transactions.Unmarshal(req.Tx)
	if err != nil {
		return nil, err
	}
	if tx.Type != typ {
		return nil, errors.Wrapf(utt.ErrInvalidTransaction, "claim for %s carries a %s transaction", typ, tx.Type)
	}
	shares, err := DecodeShares(req.Shares)
	if err != nil {
		return nil, err
	}
	coins, err := s.wallet.ClaimCoins(ctx, tx, shares)
	if err != nil {
		return nil, err
	}
	return &ClaimCoinsResponse{Succ: true, Coins: coinInfos(coins)}, nil
}

func txResponse(tx *transactions.Transaction, final bool) (*GenerateTxResponse, error) {
	raw, err := tx.Marshal()
	if err != nil {
		return nil, err
	}
	return &GenerateTxResponse{
		Tx:               raw,
		TxID:             tx.ID(),
		Type:             tx.Type.String(),
		Final:            final,
		NumOfOutputCoins: tx.NumOutputs(),
	}, nil
}

func (s *Server) GenerateMintTx(ctx context.Context, req *GenerateMintTxRequest) (*GenerateTxResponse, error) {
	tx, err := s.wallet.Mint(ctx, req.Amount)
	if err != nil {
		return nil, err
	}
	return txResponse(tx, true)
}

func (s *Server) GenerateBurnTx(ctx context.Context, req *GenerateBurnTxRequest) (*GenerateTxResponse, error) {
	res, err := s.wallet.Burn(ctx, req.Amount)
	if err != nil {
		return nil, err
	}
	return txResponse(res.Tx, res.Final)
}

func (s *Server) GenerateTransferTx(ctx context.Context, req *GenerateTransferTxRequest) (*GenerateTxResponse, error) {
	res, err := s.wallet.Transfer(ctx, req.RecipientID, req.RecipientPublicKey, req.Amount)
	if err != nil {
		return nil, err
	}
	return txResponse(res.Tx, res.Final)
}

func (s *Server) GetState(ctx context.Context, _ *GetStateRequest) (*GetStateResponse, error) {
	st, err := s.wallet.GetState(ctx)
	if err != nil {
		return nil, err
	}
	return &GetStateResponse{
		UserID:           st.Identity,
		PublicKey:        st.PublicKey,
		Registered:       st.Registered,
		Balance:          st.Balance,
		Budget:           st.Budget,
		BudgetExpiration: st.BudgetExpiration,
		Coins:            st.Coins,
		Pending:          st.Pending,
	}, nil
}

func (s *Server) SetAppData(ctx context.Context, req *SetAppDataRequest) (*SuccessResponse, error) {
	if err := s.wallet.SetAppData(ctx, req.Keys, req.Values); err != nil {
		return nil, err
	}
	return &SuccessResponse{Succ: true}, nil
}

func (s *Server) GetAppData(ctx context.Context, req *GetAppDataRequest) (*GetAppDataResponse, error) {
	values, err := s.wallet.GetAppData(ctx, req.Keys)
	if err != nil {
		return nil, err
	}
	return &GetAppDataResponse{Values: values}, nil
}

func (s *Server) AbandonTx(_ context.Context, _ *AbandonTxRequest) (*AbandonTxResponse, error) {
	return &AbandonTxResponse{Abandoned: s.wallet.AbandonPending()}, nil
}
