package bitonic

// The three WGSL kernels below cooperate in the standard bitonic
// pyramid described in spec.md 4.2. Each dispatch handles one merge
// stage (params.stage). FirstPassShader runs every compare distance of
// that stage in one threadgroup's shared memory; GeneralPassShader
// handles one large-distance compare-exchange per invocation directly
// against the storage buffer; FinalPassShader collapses the remaining
// small distances of the stage back into shared memory once the
// distance drops back to the threadgroup width, resuming the
// shared-memory loop at unit = 256 rather than recomputing stage>>1.
// This module contains no host code that dispatches these pipelines;
// Sort in bitonic.go is the CPU executor used by every test in this
// module.

// FirstPassShader loads 2*workgroup_size elements into shared memory
// and runs one stage (params.stage), from unit stage>>1 down to 1. It
// covers a single stage per dispatch, not every small stage at once,
// and is correct only for stages that fit the 512-slot window.
const FirstPassShader = `
struct Params {
    stage: u32,
    n: u32,
}

@group(0) @binding(0) var<storage, read_write> pairsHash: array<u32>;
@group(0) @binding(1) var<storage, read_write> pairsPayload: array<u32>;
@group(0) @binding(2) var<uniform> params: Params;

var<workgroup> sharedHash: array<u32, 512>;
var<workgroup> sharedPayload: array<u32, 512>;

fn lessPair(ah: u32, ap: u32, bh: u32, bp: u32) -> bool {
    if (ah != bh) { return ah < bh; }
    return ap < bp;
}

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(local_invocation_id) lid: vec3<u32>, @builtin(workgroup_id) wgid: vec3<u32>) {
    let base = wgid.x * 512u;
    sharedHash[lid.x] = pairsHash[base + lid.x];
    sharedHash[lid.x + 256u] = pairsHash[base + lid.x + 256u];
    sharedPayload[lid.x] = pairsPayload[base + lid.x];
    sharedPayload[lid.x + 256u] = pairsPayload[base + lid.x + 256u];
    workgroupBarrier();

    var unit = params.stage >> 1u;
    loop {
        if (unit == 0u) { break; }
        let t = lid.x;
        let left = ((t & ~(unit - 1u)) << 1u) | (t & (unit - 1u));
        let right = left + unit;
        let ascending = ((base + left) & params.stage) == 0u;
        let ah = sharedHash[left];
        let ap = sharedPayload[left];
        let bh = sharedHash[right];
        let bp = sharedPayload[right];
        if (ascending == lessPair(bh, bp, ah, ap)) {
            sharedHash[left] = bh;
            sharedPayload[left] = bp;
            sharedHash[right] = ah;
            sharedPayload[right] = ap;
        }
        workgroupBarrier();
        unit = unit >> 1u;
    }

    pairsHash[base + lid.x] = sharedHash[lid.x];
    pairsHash[base + lid.x + 256u] = sharedHash[lid.x + 256u];
    pairsPayload[base + lid.x] = sharedPayload[lid.x];
    pairsPayload[base + lid.x + 256u] = sharedPayload[lid.x + 256u];
}
`

// GeneralPassShader performs one compare-exchange per invocation at a
// compare distance too large to fit shared memory.
const GeneralPassShader = `
struct Params {
    stage: u32,
    unit: u32,
}

@group(0) @binding(0) var<storage, read_write> pairsHash: array<u32>;
@group(0) @binding(1) var<storage, read_write> pairsPayload: array<u32>;
@group(0) @binding(2) var<uniform> params: Params;

fn lessPair(ah: u32, ap: u32, bh: u32, bp: u32) -> bool {
    if (ah != bh) { return ah < bh; }
    return ap < bp;
}

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let t = gid.x;
    let unit = params.unit;
    let left = ((t & ~(unit - 1u)) << 1u) | (t & (unit - 1u));
    let right = left + unit;
    let ascending = (left & params.stage) == 0u;

    let ah = pairsHash[left];
    let ap = pairsPayload[left];
    let bh = pairsHash[right];
    let bp = pairsPayload[right];
    if (ascending == lessPair(bh, bp, ah, ap)) {
        pairsHash[left] = bh;
        pairsPayload[left] = bp;
        pairsHash[right] = ah;
        pairsPayload[right] = ap;
    }
}
`

// FinalPassShader collapses the remaining stages, whose compare
// distance has dropped back to <= the threadgroup width, into shared
// memory in one dispatch. It is dispatched after zero or more
// GeneralPassShader passes have already walked unit down from
// params.stage>>1 to 256 (the threadgroup width); unlike
// FirstPassShader, whose loop starts at params.stage>>1 and is only
// correct when the whole stage fits in the 512-slot shared window
// (stage <= 512), this kernel always starts its shared-memory loop at
// unit = 256 regardless of how large stage was, matching the unit
// GeneralPassShader left off at.
const FinalPassShader = `
struct Params {
    stage: u32,
    n: u32,
}

@group(0) @binding(0) var<storage, read_write> pairsHash: array<u32>;
@group(0) @binding(1) var<storage, read_write> pairsPayload: array<u32>;
@group(0) @binding(2) var<uniform> params: Params;

var<workgroup> sharedHash: array<u32, 512>;
var<workgroup> sharedPayload: array<u32, 512>;

fn lessPair(ah: u32, ap: u32, bh: u32, bp: u32) -> bool {
    if (ah != bh) { return ah < bh; }
    return ap < bp;
}

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(local_invocation_id) lid: vec3<u32>, @builtin(workgroup_id) wgid: vec3<u32>) {
    let base = wgid.x * 512u;
    sharedHash[lid.x] = pairsHash[base + lid.x];
    sharedHash[lid.x + 256u] = pairsHash[base + lid.x + 256u];
    sharedPayload[lid.x] = pairsPayload[base + lid.x];
    sharedPayload[lid.x + 256u] = pairsPayload[base + lid.x + 256u];
    workgroupBarrier();

    var unit = 256u;
    loop {
        if (unit == 0u) { break; }
        let t = lid.x;
        let left = ((t & ~(unit - 1u)) << 1u) | (t & (unit - 1u));
        let right = left + unit;
        let ascending = ((base + left) & params.stage) == 0u;
        let ah = sharedHash[left];
        let ap = sharedPayload[left];
        let bh = sharedHash[right];
        let bp = sharedPayload[right];
        if (ascending == lessPair(bh, bp, ah, ap)) {
            sharedHash[left] = bh;
            sharedPayload[left] = bp;
            sharedHash[right] = ah;
            sharedPayload[right] = ap;
        }
        workgroupBarrier();
        unit = unit >> 1u;
    }

    pairsHash[base + lid.x] = sharedHash[lid.x];
    pairsHash[base + lid.x + 256u] = sharedHash[lid.x + 256u];
    pairsPayload[base + lid.x] = sharedPayload[lid.x];
    pairsPayload[base + lid.x + 256u] = sharedPayload[lid.x + 256u];
}
`
