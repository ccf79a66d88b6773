/*
veolia is a package for authenticating against the Veolia "eau" customer
space and retrieving water consumption and alert data for a residential
subscription.

Primary types provided by the package

* Client: owns one account's session. It drives the multi-step login
sequence (a PKCE-style authorization code flow across two hosts, with the
redirects interpreted manually), exchanges the resulting authorization code
for an access token, and keeps that token alive transparently: every data
call re-runs the login when the token is missing or expired.

* AccountData: the mutable session record accumulated by the flow and the
data calls (token, resolved subscription identifiers, last fetched
consumption payloads and alert settings). It is owned exclusively by its
Client and lives only as long as the process.

* AlertSettings: the per-period (daily/monthly) consumption alert
configuration, readable with Client.Alerts and writable with
Client.SetAlerts.

The login sequence is strictly sequential: each step's redirect determines
the next step and carries the correlation state the following step must
echo back. A step answering anything but its declared success status aborts
the whole flow; nothing is retried. Multiple clients for different accounts
may run concurrently, they share no state.
*/
package veolia
