//go:build windows

package webgpu

// workgroupSize is the invocation count of every layer norm kernel.
// The row kernels assign one workgroup per row and reduce across it in
// workgroup memory, so the shaders below hardcode the same value.
const workgroupSize = 256

// maxGroupsPerDim is the WebGPU limit on workgroups along one dispatch dimension.
const maxGroupsPerDim = 65535

// kernel is a named WGSL compute shader with entry point main.
type kernel struct {
	name string
	code string
}

var (
	forwardKernel   = kernel{name: "layernorm_forward", code: layerNormForwardShader}
	dataGradKernel  = kernel{name: "layernorm_backward_data", code: layerNormDataGradShader}
	paramGradKernel = kernel{name: "layernorm_backward_params", code: layerNormParamGradShader}
)

// layerNormForwardShader normalizes one row per workgroup.
// Each invocation runs Welford over a strided slice of the row; the partial
// statistics are combined with the parallel (Chan) merge in workgroup memory.
// stats holds the means followed by the standard deviations.
const layerNormForwardShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read> gamma: array<f32>;
@group(0) @binding(2) var<storage, read> beta: array<f32>;
@group(0) @binding(3) var<storage, read_write> y: array<f32>;
@group(0) @binding(4) var<storage, read_write> stats: array<f32>;

struct Params {
    batch: u32,
    channels: u32,
    row_stride: u32,
    eps: f32,
}
@group(0) @binding(5) var<uniform> params: Params;

var<workgroup> s_count: array<f32, 256>;
var<workgroup> s_mean: array<f32, 256>;
var<workgroup> s_m2: array<f32, 256>;

@compute @workgroup_size(256)
fn main(
    @builtin(local_invocation_id) local_id: vec3<u32>,
    @builtin(workgroup_id) workgroup_id: vec3<u32>
) {
    let row = workgroup_id.y * params.row_stride + workgroup_id.x;
    if (row >= params.batch) {
        return;
    }
    let tid = local_id.x;
    let base = row * params.channels;

    var n = 0.0;
    var mean = 0.0;
    var m2 = 0.0;
    for (var c = tid; c < params.channels; c = c + 256u) {
        let v = x[base + c];
        n = n + 1.0;
        let delta = v - mean;
        mean = mean + delta / n;
        m2 = m2 + delta * (v - mean);
    }
    s_count[tid] = n;
    s_mean[tid] = mean;
    s_m2[tid] = m2;
    workgroupBarrier();

    for (var s: u32 = 128u; s > 0u; s = s >> 1u) {
        if (tid < s) {
            let nb = s_count[tid + s];
            if (nb > 0.0) {
                let na = s_count[tid];
                let total = na + nb;
                let delta = s_mean[tid + s] - s_mean[tid];
                let wb = nb / total;
                s_mean[tid] = s_mean[tid] + delta * wb;
                s_m2[tid] = s_m2[tid] + s_m2[tid + s] + delta * delta * na * wb;
                s_count[tid] = total;
            }
        }
        workgroupBarrier();
    }

    let mu = s_mean[0];
    let sigma = sqrt(s_m2[0] / s_count[0] + params.eps);
    if (tid == 0u) {
        stats[row] = mu;
        stats[params.batch + row] = sigma;
    }
    let inv_std = 1.0 / sigma;
    for (var c = tid; c < params.channels; c = c + 256u) {
        y[base + c] = (x[base + c] - mu) * inv_std * gamma[c] + beta[c];
    }
}
`

// layerNormDataGradShader computes the input gradient of one row per workgroup.
// The two row sums A = Σ dy·γ and B = Σ dy·γ·(x-μ) are tree-reduced in
// workgroup memory before any invocation writes its slice of dx.
const layerNormDataGradShader = `
@group(0) @binding(0) var<storage, read> dy: array<f32>;
@group(0) @binding(1) var<storage, read> x: array<f32>;
@group(0) @binding(2) var<storage, read> gamma: array<f32>;
@group(0) @binding(3) var<storage, read> stats: array<f32>;
@group(0) @binding(4) var<storage, read_write> dx: array<f32>;

struct Params {
    batch: u32,
    channels: u32,
    row_stride: u32,
    _pad: u32,
}
@group(0) @binding(5) var<uniform> params: Params;

var<workgroup> s_a: array<f32, 256>;
var<workgroup> s_b: array<f32, 256>;

@compute @workgroup_size(256)
fn main(
    @builtin(local_invocation_id) local_id: vec3<u32>,
    @builtin(workgroup_id) workgroup_id: vec3<u32>
) {
    let row = workgroup_id.y * params.row_stride + workgroup_id.x;
    if (row >= params.batch) {
        return;
    }
    let tid = local_id.x;
    let base = row * params.channels;
    let mu = stats[row];
    let inv_std = 1.0 / stats[params.batch + row];

    var a = 0.0;
    var b = 0.0;
    for (var c = tid; c < params.channels; c = c + 256u) {
        let g = dy[base + c] * gamma[c];
        a = a + g;
        b = b + g * (x[base + c] - mu);
    }
    s_a[tid] = a;
    s_b[tid] = b;
    workgroupBarrier();

    for (var s: u32 = 128u; s > 0u; s = s >> 1u) {
        if (tid < s) {
            s_a[tid] = s_a[tid] + s_a[tid + s];
            s_b[tid] = s_b[tid] + s_b[tid + s];
        }
        workgroupBarrier();
    }

    let n = f32(params.channels);
    let s0 = s_a[0] * inv_std / n;
    let s1 = s_b[0] * inv_std * inv_std / n;
    for (var c = tid; c < params.channels; c = c + 256u) {
        let i = base + c;
        dx[i] = dy[i] * gamma[c] * inv_std - s0 - (x[i] - mu) * inv_std * s1;
    }
}
`

// layerNormParamGradShader computes the scale and shift gradients with one
// invocation per channel, each summing over every row.
const layerNormParamGradShader = `
@group(0) @binding(0) var<storage, read> dy: array<f32>;
@group(0) @binding(1) var<storage, read> x: array<f32>;
@group(0) @binding(2) var<storage, read> stats: array<f32>;
@group(0) @binding(3) var<storage, read_write> dscale: array<f32>;
@group(0) @binding(4) var<storage, read_write> dshift: array<f32>;

struct Params {
    batch: u32,
    channels: u32,
    _pad0: u32,
    _pad1: u32,
}
@group(0) @binding(5) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let c = global_id.x;
    if (c >= params.channels) {
        return;
    }
    var gs = 0.0;
    var gb = 0.0;
    for (var row: u32 = 0u; row < params.batch; row = row + 1u) {
        let i = row * params.channels + c;
        let g = dy[i];
        gs = gs + g * (x[i] - stats[row]) / stats[params.batch + row];
        gb = gb + g;
    }
    dscale[c] = gs;
    dshift[c] = gb;
}
`
