package eqws

import (
	"context"
	"net/http"
	"net/url"
)

type (
	OpenConnectionParams struct {
		URL    url.URL
		Header http.Header
	}

	// OpenConnectionParamsGetter resolves what to dial for an address. It is
	// called on every (re)connection so headers such as auth tokens can rotate.
	OpenConnectionParamsGetter func(ctx context.Context, address string) (OpenConnectionParams, error)

	OpenConnectionParamsRepo struct {
		logger logger
		getter OpenConnectionParamsGetter
	}
)

func (r OpenConnectionParamsRepo) Get(
	ctx context.Context,
	address string,
) (params OpenConnectionParams, err error) {
	params, err = r.getter(ctx, address)
	if err != nil {
		r.logger.Errorf("cannot fetch open connection params for %s: %s", address, err)
	}
	return
}

func NewOpenConnectionParamsRepo(
	logger logger,
	getter OpenConnectionParamsGetter,
) OpenConnectionParamsRepo {
	return OpenConnectionParamsRepo{getter: getter, logger: logger}
}

// StaticHeaderParams dials the address as-is, sending the same header every time.
func StaticHeaderParams(header http.Header) OpenConnectionParamsGetter {
	return func(_ context.Context, address string) (OpenConnectionParams, error) {
		u, err := parseWebsocketURL(address)
		if err != nil {
			return OpenConnectionParams{}, err
		}
		return OpenConnectionParams{URL: *u, Header: header.Clone()}, nil
	}
}
