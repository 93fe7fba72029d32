package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const dialTimeout = 2 * time.Second

// Client is a JSON-RPC connection to the daemon socket. It is not safe to
// share one Client between processes, but calls from several goroutines are
// serialized by net/rpc.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to the daemon listening on the Unix socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	if c == nil || c.rpc == nil {
		return nil
	}
	return c.rpc.Close()
}

func invoke[Resp any](c *Client, method string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.rpc.Call(ServiceName+"."+method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Status() (*StatusResponse, error) {
	return invoke[StatusResponse](c, "Status", StatusRequest{})
}

// SessionList returns sessions, optionally filtered by download or analysis status.
func (c *Client) SessionList(req SessionListRequest) (*SessionListResponse, error) {
	return invoke[SessionListResponse](c, "SessionList", req)
}

func (c *Client) SessionDescribe(id string) (*SessionDescribeResponse, error) {
	return invoke[SessionDescribeResponse](c, "SessionDescribe", SessionDescribeRequest{ID: id})
}

// SessionAdd ingests records and queues their downloads.
func (c *Client) SessionAdd(req SessionAddRequest) (*SessionAddResponse, error) {
	return invoke[SessionAddResponse](c, "SessionAdd", req)
}

func (c *Client) RetryDownload(req RetryRequest) (*RetryResponse, error) {
	return invoke[RetryResponse](c, "RetryDownload", req)
}

func (c *Client) RetryAnalysis(req RetryRequest) (*RetryResponse, error) {
	return invoke[RetryResponse](c, "RetryAnalysis", req)
}

// Reset wipes every session. req.Confirm must carry the confirmation word.
func (c *Client) Reset(req ResetRequest) (*ResetResponse, error) {
	return invoke[ResetResponse](c, "Reset", req)
}

func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return invoke[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
