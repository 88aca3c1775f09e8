/*
Package http implements the coordinator request contract over HTTP.

Every request carries JSON bodies and is signed with the client's keypair.
Transport failures are retried with exponential backoff, failures reported
by the coordinator are returned as *common.Error values:

	c, err := http.New(log.DefaultLogger(), "https://coordinator.example.org", kp)
	if err != nil {
		return err
	}
	if err := c.JoinQueue(ctx); err != nil {
		return err
	}
*/
package http
