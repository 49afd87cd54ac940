// Package client is the Go SDK for the pbsnet gateway.
//
// # Users
//
// Log in once; the session token is attached to every later call:
//
//	c, err := client.New("https://api.pbsnet.example")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := c.Login(ctx, "a@example.com", "password1"); err != nil {
//	    log.Fatal(err)
//	}
//	me, err := c.Me(ctx)
//
// A token from an earlier login can be reused with WithBearerToken.
//
// # Integrations
//
// Admin calls address a user by the API key the user generated for the
// integration and require the gateway's admin secret:
//
//	c, _ := client.New(gatewayURL, client.WithAdminSecret(secret))
//	merged, err := c.AppDataSet(ctx, userKey, "billing", map[string]any{"plan": "pro"})
//
// # Errors
//
// Non-2xx responses are returned as *APIError; IsStatus tests the code:
//
//	if client.IsStatus(err, http.StatusConflict) {
//	    // username taken
//	}
package client
