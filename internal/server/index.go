package server

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Shabad Finder</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
</head>
<body>
<main class="container">
    <h1>Shabad Finder</h1>
    <p id="status">Ready.</p>
    <progress id="level" value="0" max="100"></progress>

    <section id="home">
        <button onclick="post('/listen')">Listen</button>
        <button class="secondary" onclick="post('/listen?simulate=true')">Simulate</button>
    </section>
    <section id="listening" hidden>
        <button class="secondary" onclick="post('/cancel')">Cancel</button>
    </section>
    <section id="result" hidden>
        <h2 id="title"></h2>
        <p id="info"></p>
        <article id="lines"></article>
        <p id="explanation"></p>
        <audio id="player" controls hidden></audio>
        <button onclick="post('/explain')">Explain</button>
        <button class="secondary" onclick="post('/back')">Back</button>
    </section>
    <section id="error" hidden>
        <p id="message"></p>
        <button onclick="post('/retry')">Try again</button>
    </section>
</main>
<script>
const views = ["home", "listening", "result", "error"];
const $ = (id) => document.getElementById(id);

function post(path) {
    fetch(path, {method: "POST"});
}

function render(state) {
    views.forEach((v) => { $(v).hidden = v !== state.view; });
    $("status").textContent = state.status;
    $("message").textContent = state.error || "";
    if (state.hymn) {
        const info = state.hymn.info || {};
        $("title").textContent = "Shabad " + state.hymn.id;
        const label = (l) => l ? (l.english || l.gurmukhi || "") : "";
        $("info").textContent = [label(info.raag), label(info.writer), "Ang " + info.page_no].filter(Boolean).join(" | ");
        $("lines").innerHTML = "";
        (state.hymn.lines || []).forEach((line) => {
            const p = document.createElement("p");
            p.textContent = line.gurmukhi + " / " + line.translation;
            $("lines").appendChild(p);
        });
    }
    $("explanation").textContent = state.generating ? "Generating..." : (state.explanation || "");
    if (state.playback_id) {
        $("player").src = "/api/playback/" + state.playback_id;
        $("player").hidden = false;
    } else {
        $("player").hidden = true;
        $("player").removeAttribute("src");
    }
}

function connect() {
    const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
    ws.onmessage = (msg) => {
        const e = JSON.parse(msg.data);
        if (e.type === "state") render(e.state);
        if (e.type === "level") $("level").value = e.level;
    };
    ws.onclose = () => setTimeout(connect, 1000);
}
connect();
</script>
</body>
</html>`
