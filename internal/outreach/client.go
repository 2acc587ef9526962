// Package outreach delivers approved tasks to the candidate messaging API.
package outreach

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	userAgent = "spigell/recruiter-loop"
	// Max value for list endpoints per page.
	perPage = "100"
)

type Client struct {
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(logger *zap.Logger, apiURL, token string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		token:  token,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
	}
}
