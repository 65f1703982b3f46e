package api

// helpPage is served when no url parameter is supplied.
const helpPage = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>pagemd - turn websites into markdown</title>
    <style>
        body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; color: #1f2937; }
        pre { background: #f3f4f6; border-radius: 6px; padding: 0.75rem; overflow-x: auto; }
        code { background: #f3f4f6; border-radius: 3px; padding: 0.1rem 0.3rem; }
    </style>
</head>
<body>
    <h1>pagemd</h1>
    <p>Render a live web page in a real browser and get back clean markdown,
    ready for LLM consumption.</p>
    <h2>How to use</h2>
    <ol>
        <li>
            Request markdown for a page:
            <pre>GET /?url=&lt;target-url&gt;&amp;api_key=&lt;your-api-key&gt;</pre>
            Example:
            <pre>curl "http://localhost:8080/?url=https://example.com&amp;api_key=your_api_key_here"</pre>
        </li>
        <li>
            Optional parameters:
            <ul>
                <li><code>enableDetailedResponse</code> (boolean, default false): convert the full stripped page body instead of the extracted article.</li>
                <li><code>crawlSubpages</code> (boolean, default false): crawl and return markdown for up to 10 same-origin subpages. Requires JSON response shape.</li>
                <li><code>llmFilter</code> (boolean, default false): clean up the markdown with a generative model.</li>
            </ul>
        </li>
        <li>
            Response shape: send header <code>Content-Type: application/json</code>
            for a JSON array of <code>{url, md}</code> objects; anything else
            returns the raw markdown string (single page only).
        </li>
    </ol>
</body>
</html>
`
