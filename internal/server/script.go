package server

import "fmt"

// reloadScript is the browser side of the reload connection. It remembers
// the first generation it greets and reloads the page once a reconnect
// reports another one.
const reloadScript = `(function() {
    'use strict';
    var endpoint = %q;
    var generation = null;
    var delay = 250;
    var maxDelay = 5000;

    function connect() {
        var protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
        var ws = new WebSocket(protocol + '//' + location.host + endpoint);

        ws.onmessage = function(e) {
            var msg;
            try {
                msg = JSON.parse(e.data);
            } catch (err) {
                return;
            }
            if (msg.type !== 'hello') {
                return;
            }
            delay = 250;
            if (generation === null) {
                generation = msg.generation;
            } else if (generation !== msg.generation) {
                console.log('[devsrv] server restarted, reloading');
                location.reload();
            }
        };

        ws.onclose = function() {
            setTimeout(function() {
                delay = Math.min(delay * 2, maxDelay);
                connect();
            }, delay);
        };

        ws.onerror = function() {
            ws.close();
        };
    }

    if (document.readyState === 'loading') {
        document.addEventListener('DOMContentLoaded', connect);
    } else {
        connect();
    }
})();
`

// ReloadScript renders the client for the websocket at endpoint.
func ReloadScript(endpoint string) string {
	return fmt.Sprintf(reloadScript, endpoint)
}
