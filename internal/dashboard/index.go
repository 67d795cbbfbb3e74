package dashboard

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Fightwatch</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: system-ui, sans-serif; background: #111; color: #eee; }
        .app { max-width: 1200px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        .badge { padding: 4px 10px; border-radius: 12px; background: #444; font-size: 13px; }
        .badge.online { background: #1f6f3a; }
        .badge.service_error, .badge.network_error { background: #8a5a00; }
        .badge.camera_error { background: #8a1f1f; }
        #alert-banner { display: none; background: #c62828; padding: 12px; border-radius: 8px;
                        font-weight: bold; text-align: center; margin: 12px 0; }
        #alert-banner.active { display: block; animation: pulse 1s infinite; }
        @keyframes pulse { 50% { opacity: .6; } }
        .stats { display: grid; grid-template-columns: 1fr 1fr; gap: 8px; }
        .stat .value { font-size: 22px; font-weight: bold; }
        .stat .label { font-size: 12px; color: #aaa; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td, th { padding: 4px; border-bottom: 1px solid #333; text-align: left; }
        tr.fight td { color: #ff6b6b; }
        label { display: block; margin: 8px 0 2px; font-size: 13px; }
        img { width: 100%; display: block; background: #000; }
    </style>
</head>
<body>
<div class="app">
    <div class="header">
        <h1>Fightwatch</h1>
        <span class="badge" id="status-badge">starting</span>
    </div>
    <div id="alert-banner">FIGHT DETECTED</div>
    <div class="grid">
        <div class="panel">
            <img id="stream" src="/stream" alt="Annotated camera feed">
            <p id="status-message"></p>
        </div>
        <div>
            <div class="panel stats">
                <div class="stat"><div class="value" id="frames">0</div><div class="label">Frames processed</div></div>
                <div class="stat"><div class="value" id="fights">0</div><div class="label">Fight frames</div></div>
                <div class="stat"><div class="value" id="alerts">0</div><div class="label">Alerts</div></div>
                <div class="stat"><div class="value" id="confidence">0%</div><div class="label">Average confidence</div></div>
                <div class="stat"><div class="value" id="people">0</div><div class="label">People</div></div>
                <div class="stat"><div class="value" id="fps">0</div><div class="label">FPS</div></div>
            </div>
            <div class="panel">
                <label for="rate">Sample rate <span id="rate-value"></span> Hz</label>
                <input type="range" id="rate" min="1" max="60" step="1">
                <label for="sensitivity">Sensitivity <span id="sensitivity-value"></span></label>
                <input type="range" id="sensitivity" min="0" max="1" step="0.05">
                <label><input type="checkbox" id="audio"> Audio alerts</label>
                <p>
                    <button id="clear">Clear log</button>
                    <a href="/api/history?format=csv">Export CSV</a>
                    <button id="webrtc">Use WebRTC</button>
                </p>
            </div>
        </div>
    </div>
    <div class="panel">
        <h2>Detection log</h2>
        <table>
            <thead><tr><th>Time</th><th>Type</th><th>Confidence</th><th>People</th></tr></thead>
            <tbody id="history"></tbody>
        </table>
    </div>
</div>
<script>
const $ = (id) => document.getElementById(id);
let editing = false;

function render(s) {
    const badge = $("status-badge");
    badge.textContent = s.status.replace("_", " ");
    badge.className = "badge " + s.status;
    $("status-message").textContent = s.status_message || "";
    $("alert-banner").classList.toggle("active", s.alert === "alerting");

    const st = s.stats;
    $("frames").textContent = st.frames_processed;
    $("fights").textContent = st.fight_events;
    $("alerts").textContent = st.active_alerts;
    $("confidence").textContent = st.average_confidence + "%";
    $("people").textContent = st.people_count;
    $("fps").textContent = st.current_fps;

    if (!editing) {
        $("rate").value = s.settings.sample_rate_hz;
        $("sensitivity").value = s.settings.sensitivity;
        $("audio").checked = s.settings.audio_alerts;
    }
    $("rate-value").textContent = $("rate").value;
    $("sensitivity-value").textContent = $("sensitivity").value;

    $("history").innerHTML = (st.history || []).map((e) =>
        '<tr class="' + e.type + '"><td>' + new Date(e.time).toLocaleTimeString() +
        "</td><td>" + e.type + "</td><td>" + e.confidence + "%</td><td>" + e.people_count + "</td></tr>"
    ).join("");
}

function post(path, body) {
    return fetch(path, {
        method: "POST",
        headers: { "Content-Type": "application/json" },
        body: body ? JSON.stringify(body) : undefined,
    });
}

function bindSetting(id, key, parse) {
    const el = $(id);
    el.addEventListener("input", () => { editing = true; });
    el.addEventListener("change", () => {
        editing = false;
        post("/api/settings", { [key]: parse(el) });
    });
}
bindSetting("rate", "sample_rate_hz", (el) => Number(el.value));
bindSetting("sensitivity", "sensitivity", (el) => Number(el.value));
bindSetting("audio", "audio_alerts", (el) => el.checked);
$("clear").addEventListener("click", () => post("/api/logs/clear"));

let events = new EventSource("/api/status/stream");
events.onmessage = (ev) => render(JSON.parse(ev.data));

$("webrtc").addEventListener("click", async () => {
    const pc = new RTCPeerConnection();
    const channel = pc.createDataChannel("status", { negotiated: true, id: 0 });
    channel.onmessage = (ev) => render(JSON.parse(ev.data));
    channel.onopen = () => { events.close(); $("webrtc").disabled = true; };
    await pc.setLocalDescription(await pc.createOffer());
    await new Promise((resolve) => {
        if (pc.iceGatheringState === "complete") return resolve();
        pc.onicegatheringstatechange = () => pc.iceGatheringState === "complete" && resolve();
    });
    const resp = await post("/api/webrtc/offer", pc.localDescription);
    if (!resp.ok) { pc.close(); return; }
    await pc.setRemoteDescription(await resp.json());
});
</script>
</body>
</html>
`
