package client

// HeadHeight satisfies metrics.HealthChecker: the current canonical chain
// height, published on the /healthz route.
func (c *Client) HeadHeight() (uint64, error) {
	head, err := c.chain.Head()
	if err != nil {
		return 0, err
	}
	return head.Height, nil
}

// IsSynced satisfies metrics.HealthChecker: true once every tracked shard
// catchup has finished, i.e. there is no in-flight sync holding head back.
func (c *Client) IsSynced() bool {
	return c.prevBlockIsCaughtUp()
}
