package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	grpcserver "github.com/and161185/practigate/internal/server/grpc"
)

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// dial opens a connection to the portal's gRPC edge. plaintext is for local
// development only.
func dial(o *rootOptions, bearer string) (*grpc.ClientConn, *grpcserver.AccessClient, error) {
	var creds credentials.TransportCredentials
	if o.plaintext {
		creds = insecure.NewCredentials()
	} else {
		c, err := loadTLS(o.caPath, o.skipVerify)
		if err != nil {
			return nil, nil, err
		}
		creds = c
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !o.plaintext}))
	}
	cc, err := grpc.NewClient(o.grpcAddr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewAccessClient(cc), nil
}
